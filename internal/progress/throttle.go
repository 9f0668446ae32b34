// Package progress converts raw byte counters into rate-limited,
// human-readable status updates, mirroring the teacher's periodic stats
// reporter but gated on percent-change rather than a fixed ticker, since the
// UI must not be stalled by the send/receive hot path.
package progress

import (
	"fmt"
	"time"

	"github.com/quietwire/wormhole/internal/util"
)

// minInterval is the minimum wall-clock gap between two emitted reports.
const minInterval = 500 * time.Millisecond

// Report is a single throttled progress update.
type Report struct {
	Transferred uint64
	Total       uint64
	Percent     int
	SpeedMiBps  float64
	ETA         time.Duration
	Text        string
}

// Throttle suppresses redundant progress reports. It is not safe for
// concurrent use — the send and receive pipelines each own one instance.
type Throttle struct {
	start       time.Time
	lastReport  time.Time
	lastPercent int
	haveReport  bool
}

// New creates a Throttle anchored at startTime — the moment the transfer
// began, used to compute the running transfer rate.
func New(startTime time.Time) *Throttle {
	return &Throttle{start: startTime, lastPercent: -1}
}

// Update reports (transferred, total) at time now. It returns ok=false if
// the update should be suppressed: fewer than 500ms have elapsed since the
// last emitted report, and the integer percent has not changed.
func (t *Throttle) Update(transferred, total uint64, now time.Time) (Report, bool) {
	percent := 0
	if total > 0 {
		percent = int(float64(transferred)/float64(total)*100 + 0.5)
	}

	if t.haveReport && now.Sub(t.lastReport) < minInterval && percent == t.lastPercent {
		return Report{}, false
	}

	elapsed := now.Sub(t.start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(transferred) / elapsed
	}

	var eta time.Duration
	if speed > 0 && total > transferred {
		remaining := float64(total-transferred) / speed
		eta = time.Duration(remaining * float64(time.Second))
	}

	r := Report{
		Transferred: transferred,
		Total:       total,
		Percent:     percent,
		SpeedMiBps:  speed / (1024 * 1024),
		ETA:         eta,
	}
	r.Text = fmt.Sprintf("%d%% • %s MB/s • ETA %s",
		r.Percent, util.FormatMiBps(speed), util.FormatETA(eta.Seconds()))

	t.lastReport = now
	t.lastPercent = percent
	t.haveReport = true
	return r, true
}
