package progress

import (
	"testing"
	"time"
)

func TestThrottleFirstUpdateAlwaysReports(t *testing.T) {
	start := time.Now()
	th := New(start)

	r, ok := th.Update(10, 100, start)
	if !ok {
		t.Fatalf("first Update should always report")
	}
	if r.Percent != 10 {
		t.Errorf("Percent = %d, want 10", r.Percent)
	}
}

func TestThrottleSuppressesRapidSamePercent(t *testing.T) {
	start := time.Now()
	th := New(start)

	th.Update(10, 100, start)
	_, ok := th.Update(10, 100, start.Add(10*time.Millisecond))
	if ok {
		t.Errorf("Update should be suppressed: < 500ms elapsed and percent unchanged")
	}
}

func TestThrottleReportsOnPercentChange(t *testing.T) {
	start := time.Now()
	th := New(start)

	th.Update(10, 100, start)
	r, ok := th.Update(20, 100, start.Add(5*time.Millisecond))
	if !ok {
		t.Fatalf("Update should report immediately on a percent change")
	}
	if r.Percent != 20 {
		t.Errorf("Percent = %d, want 20", r.Percent)
	}
}

func TestThrottleReportsAfterInterval(t *testing.T) {
	start := time.Now()
	th := New(start)

	th.Update(10, 100, start)
	r, ok := th.Update(10, 100, start.Add(600*time.Millisecond))
	if !ok {
		t.Fatalf("Update should report once minInterval has elapsed, even at the same percent")
	}
	if r.Transferred != 10 {
		t.Errorf("Transferred = %d, want 10", r.Transferred)
	}
}

func TestThrottleZeroTotal(t *testing.T) {
	start := time.Now()
	th := New(start)

	r, ok := th.Update(5, 0, start)
	if !ok {
		t.Fatalf("Update with total=0 should still report")
	}
	if r.Percent != 0 {
		t.Errorf("Percent = %d, want 0 when total is 0", r.Percent)
	}
}
