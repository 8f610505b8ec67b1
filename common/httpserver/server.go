// common/httpserver/server.go

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
)

// ReadyChecker returns nil if the service is ready to serve.
type ReadyChecker func() error

// HTTPServer runs until ctx is cancelled and then shuts down gracefully.
type HTTPServer interface {
	Run(ctx context.Context) error
	// Listening закрывается, когда listener открыт и сервер принимает соединения.
	Listening() <-chan struct{}
	// Handler отдаёт корневой обработчик (удобно для httptest).
	Handler() http.Handler
}

type server struct {
	httpServer      *http.Server
	addr            string
	shutdownTimeout time.Duration
	listening       chan struct{}
	log             *logger.Logger
}

// New constructs an HTTPServer with metrics and health endpoints.
// extra монтирует дополнительные обработчики по префиксам; mws применяются
// ко всему дереву в порядке перечисления (первый — внешний).
func New(
	cfg Config,
	check ReadyChecker,
	log *logger.Logger,
	extra map[string]http.Handler,
	mws ...Middleware,
) (HTTPServer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if check == nil {
		check = func() error { return nil }
	}
	log = log.Named("http-server")

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc(cfg.ReadyzPath, func(w http.ResponseWriter, _ *http.Request) {
		if err := check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("NOT READY: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	prefixes := make([]string, 0, len(extra))
	for p := range extra {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		mux.Handle(p, extra[p])
		log.Debug("http: route mounted", zap.String("prefix", p))
	}

	if cfg.CORS {
		mws = append(mws, CORSMiddleware())
	}
	var root http.Handler = mux
	for i := len(mws) - 1; i >= 0; i-- {
		root = mws[i](root)
	}

	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &server{
		httpServer:      httpSrv,
		addr:            cfg.Addr(),
		shutdownTimeout: cfg.ShutdownTimeout,
		listening:       make(chan struct{}),
		log:             log,
	}, nil
}

func (s *server) Handler() http.Handler { return s.httpServer.Handler }

func (s *server) Listening() <-chan struct{} { return s.listening }

// Run listens on the configured address and gracefully shuts down on ctx.Done().
func (s *server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.addr, err)
	}
	close(s.listening)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http: starting server", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpserver: serve: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
	case err := <-errCh:
		serveErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("http: server stopped gracefully")
	return serveErr
}
