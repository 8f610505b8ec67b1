package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YaganovValera/feedbridge/common/logger"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	cases := []struct {
		name    string
		input   Config
		wantErr bool
	}{
		{"noPort", Config{}, true},
		{"badPort", Config{Port: 70000}, true},
		{"badPath", Config{Port: 8080, MetricsPath: "metrics"}, true},
		{"ok", Config{Port: 8080}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.input
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v; wantErr=%v", err, c.wantErr)
			}
		})
	}
}

func TestServer_HealthReadyAndExtraRoutes(t *testing.T) {
	ready := errors.New("not yet")
	extra := map[string]http.Handler{
		"/feed/": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("feed:" + r.URL.Path))
		}),
	}
	srv, err := New(Config{Port: 8080}, func() error { return ready }, logger.Nop(), extra)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d; want 200", code)
	}
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d; want 503", code)
	}
	ready = nil
	if code, body := get("/readyz"); code != http.StatusOK || body != "READY" {
		t.Errorf("/readyz = %d %q; want 200 READY", code, body)
	}
	if code, body := get("/feed/data"); code != http.StatusOK || body != "feed:/feed/data" {
		t.Errorf("/feed/data = %d %q", code, body)
	}
	if code, _ := get("/metrics"); code != http.StatusOK {
		t.Errorf("/metrics = %d; want 200", code)
	}
}

func TestServer_RecoverMiddleware(t *testing.T) {
	extra := map[string]http.Handler{
		"/boom": http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	}
	srv, err := New(Config{Port: 8080}, nil, logger.Nop(), extra, RecoverMiddleware(logger.Nop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d; want 500", rec.Code)
	}
}

func TestServer_RunAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	srv, err := New(Config{Host: "127.0.0.1", Port: port, ShutdownTimeout: time.Second}, nil, logger.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Listening():
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start listening")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v; want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
