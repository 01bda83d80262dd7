package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestPathRedactsToken(t *testing.T) {
	cases := []struct {
		target string
		want   string
	}{
		{"/api/stream", "/api/stream"},
		{"/api/stream?token=secret", "/api/stream?token=REDACTED"},
		{"/api/ws?b=2&token=secret", "/api/ws?b=2&token=REDACTED"},
		{"/api/state?a=1", "/api/state?a=1"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if got := requestPath(r); got != tc.want {
			t.Fatalf("requestPath(%q) = %q, want %q", tc.target, got, tc.want)
		}
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	if got := clientIP(r); got != "10.0.0.2:5555" {
		t.Fatalf("clientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", " 192.0.2.1 , 10.0.0.1")
	if got := clientIP(r); got != "192.0.2.1" {
		t.Fatalf("clientIP with forwarded = %q", got)
	}
}

func TestRequestLoggingKeepsStatus(t *testing.T) {
	handler := withRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc/chunk_state", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
