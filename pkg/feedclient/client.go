// Package feedclient registers a webhook with the remote market-data feed,
// serves the data/signal endpoints the feed pushes to and issues the
// authenticated start/stop/restart commands.
package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
)

// RestartDateLayout is the format of the restart "date" query parameter.
const RestartDateLayout = "2006-01-02T15:04:05"

// maxErrorBody caps how much of a non-200 body ends up in StatusError.
const maxErrorBody = 4 << 10

var tracer = otel.Tracer("feedbridge/feedclient")

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	addr       Address
	log        *logger.Logger
	handlers   *handlerSet
	router     http.Handler
	registered atomic.Bool
}

// New validates cfg and builds a Client. Nothing is sent until Connect.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	addr, err := localAddress(cfg)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger.Named("feedclient")
	c := &Client{
		cfg:      cfg,
		addr:     addr,
		log:      log,
		handlers: newHandlerSet(log),
	}
	c.router = c.buildRoutes()
	return c, nil
}

// Address returns the inbound address announced to the feed server.
func (c *Client) Address() Address { return c.addr }

// Pathname is the local route prefix the inbound endpoints are served under.
func (c *Client) Pathname() string { return c.cfg.Pathname }

// Registered reports whether the last Connect succeeded and no Disconnect
// has followed. Operations do not depend on it.
func (c *Client) Registered() bool { return c.registered.Load() }

type registerBody struct {
	Href Address `json:"href"`
	Verb string  `json:"verb"`
}

// Connect announces the inbound address: PUT /register.
func (c *Client) Connect(ctx context.Context) error {
	err := c.do(ctx, call{
		op:     "register",
		method: http.MethodPut,
		path:   "/register",
		body:   registerBody{Href: c.addr, Verb: http.MethodPost},
		kind:   ErrRegistration,
	})
	if err != nil {
		return err
	}
	c.registered.Store(true)
	c.log.WithContext(ctx).Info("registered with feed", zap.Any("href", c.addr))
	return nil
}

// Disconnect removes the inbound address: DELETE /register.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.do(ctx, call{
		op:     "unregister",
		method: http.MethodDelete,
		path:   "/register",
		body:   registerBody{Href: c.addr, Verb: http.MethodPost},
		kind:   ErrRegistration,
	})
	if err != nil {
		return err
	}
	c.registered.Store(false)
	c.log.WithContext(ctx).Info("unregistered from feed")
	return nil
}

// Start asks the feed to begin streaming.
func (c *Client) Start(ctx context.Context) error {
	return c.command(ctx, "start", "/serv/start", nil)
}

// Stop asks the feed to stop streaming.
func (c *Client) Stop(ctx context.Context) error {
	return c.command(ctx, "stop", "/serv/stop", nil)
}

// Restart resets the stream, optionally replaying from when. The date is
// rendered in the configured location without an offset.
func (c *Client) Restart(ctx context.Context, when *time.Time) error {
	var q url.Values
	if when != nil {
		q = url.Values{"date": {when.In(c.cfg.TimeLocation).Format(RestartDateLayout)}}
	}
	return c.command(ctx, "restart", "/serv/reset", q)
}

func (c *Client) command(ctx context.Context, op, path string, q url.Values) error {
	if c.cfg.Secret == "" {
		return fmt.Errorf("%w: %s requires a shared secret", ErrConfiguration, op)
	}
	query := url.Values{"token": {c.cfg.Secret}}
	for k, v := range q {
		query[k] = v
	}
	return c.do(ctx, call{
		op:     op,
		method: http.MethodGet,
		path:   path,
		query:  query,
		kind:   ErrCommand,
	})
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	kind   error
}

// do performs one request. Feed calls are never retried.
func (c *Client) do(ctx context.Context, cl call) error {
	base, err := c.cfg.Discovery.ServiceURL(c.cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("feedclient: %s: %w", cl.op, err)
	}
	u, err := url.Parse(base + cl.path)
	if err != nil {
		return fmt.Errorf("%w: feed URL %q: %v", ErrConfiguration, base, err)
	}
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}
	shown := redact(u)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "feedclient."+cl.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", cl.method),
			attribute.String("url.full", shown),
		))
	defer span.End()

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("feedclient: %s: encode body: %w", cl.op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("feedclient: %s: build request: %w", cl.op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	requestDuration.WithLabelValues(cl.op).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(cl.op, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.log.WithContext(ctx).Warn("feed request failed",
			zap.String("op", cl.op), zap.String("uri", shown), zap.Error(err))
		return fmt.Errorf("feedclient: %s: %w", cl.op, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(cl.op, strconv.Itoa(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	serr := &StatusError{
		Op:     cl.op,
		Method: cl.method,
		URI:    shown,
		Code:   resp.StatusCode,
		Body:   string(raw),
		kind:   cl.kind,
	}
	span.RecordError(serr)
	span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	c.log.WithContext(ctx).Warn("feed request rejected",
		zap.String("op", cl.op), zap.Int("code", resp.StatusCode), zap.String("body", serr.Body))
	return serr
}

func redact(u *url.URL) string {
	q := u.Query()
	if _, ok := q["token"]; !ok {
		return u.String()
	}
	q.Set("token", "redacted")
	cp := *u
	cp.RawQuery = q.Encode()
	return cp.String()
}
