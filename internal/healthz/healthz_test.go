package healthz

import (
	"net/http/httptest"
	"testing"
)

func TestHealthzGET(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)

	Handler()(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestHealthzHEAD(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("HEAD", "/healthz", nil)

	Handler()(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHealthzRejectsPOST(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/healthz", nil)

	Handler()(rr, req)

	if rr.Code != 405 {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}
