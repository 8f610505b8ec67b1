package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	if seen == "" {
		t.Fatal("expected generated request id in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("header = %q; want %q", got, seen)
	}

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "given-id" {
		t.Errorf("request id = %q; want given-id", seen)
	}
}

func TestMetrics_PassesStatusThrough(t *testing.T) {
	h := Metrics("/test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("code = %d; want 418", rec.Code)
	}
}
