package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyzConsultsProbe(t *testing.T) {
	ready := true
	srv := NewServer(":0", func() bool { return ready })

	get := func() int {
		rec := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if got := get(); got != http.StatusOK {
		t.Errorf("readyz while ready = %d, want 200", got)
	}

	ready = false
	if got := get(); got != http.StatusServiceUnavailable {
		t.Errorf("readyz while not ready = %d, want 503", got)
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	srv := NewServer(":0", nil)

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz with nil probe = %d, want 200", rec.Code)
	}
}
