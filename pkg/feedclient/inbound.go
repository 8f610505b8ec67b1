package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/YaganovValera/feedbridge/common/ctxkeys"
	"github.com/YaganovValera/feedbridge/common/middleware"
	"github.com/YaganovValera/feedbridge/common/safe"
	"github.com/YaganovValera/feedbridge/pkg/envelope"
)

// Routes returns the inbound endpoints, POST <Pathname>/data and
// POST <Pathname>/signal, ready to be mounted at the server root.
func (c *Client) Routes() http.Handler { return c.router }

func (c *Client) buildRoutes() http.Handler {
	r := chi.NewRouter()
	if c.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestID())
	if c.cfg.Compress {
		r.Use(chimw.Compress(5, "application/json"))
	}
	r.Post(c.cfg.Pathname+"/data", c.handleData)
	r.Post(c.cfg.Pathname+"/signal", c.handleSignal)
	return r
}

type dataPush struct {
	When    pushTime `json:"when"`
	Tickers []string `json:"tickers"`
	Payload string   `json:"payload"`
}

type signalPush struct {
	Signal string `json:"signal"`
}

// pushTime accepts the timestamp either as a JSON string or as a bare
// number of Unix milliseconds.
type pushTime string

func (p *pushTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = pushTime(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = pushTime(n.String())
	return nil
}

var ack = []byte(`{"success":true}`)

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ack)
}

// accept reads the body, acknowledges the push and returns a context that
// outlives the request for the handler goroutine.
func (c *Client) accept(w http.ResponseWriter, r *http.Request, endpoint string) ([]byte, context.Context, RequestMeta, error) {
	inboundTotal.WithLabelValues(endpoint).Inc()
	meta := RequestMeta{
		RemoteAddr: r.RemoteAddr,
		RequestID:  middleware.RequestIDFrom(r.Context()),
		UserAgent:  r.UserAgent(),
		ReceivedAt: time.Now().In(c.cfg.TimeLocation),
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.cfg.MaxBodyBytes))
	writeAck(w)

	ctx := context.WithoutCancel(r.Context())
	ctx = context.WithValue(ctx, ctxkeys.RemoteAddrKey, meta.RemoteAddr)
	if err != nil {
		return nil, ctx, meta, fmt.Errorf("%w: read %s body: %v", ErrValidation, endpoint, err)
	}
	return body, ctx, meta, nil
}

func (c *Client) handleData(w http.ResponseWriter, r *http.Request) {
	body, ctx, meta, err := c.accept(w, r, "data")
	if err != nil {
		c.reportError(err)
		return
	}
	c.dispatch("data", func() {
		var push dataPush
		if err := json.Unmarshal(body, &push); err != nil {
			c.reportError(fmt.Errorf("%w: data push: %v", ErrValidation, err))
			return
		}
		data, err := envelope.New(string(push.When), push.Tickers, push.Payload,
			envelope.WithLocation(c.cfg.TimeLocation))
		if err != nil {
			c.reportError(fmt.Errorf("feedclient: data push from %s: %w", meta.RemoteAddr, err))
			return
		}
		_, _, onData := c.handlers.snapshot()
		onData(ctx, data, meta)
	})
}

func (c *Client) handleSignal(w http.ResponseWriter, r *http.Request) {
	body, ctx, meta, err := c.accept(w, r, "signal")
	if err != nil {
		c.reportError(err)
		return
	}
	c.dispatch("signal", func() {
		var push signalPush
		if err := json.Unmarshal(body, &push); err != nil {
			c.reportError(fmt.Errorf("%w: signal push: %v", ErrValidation, err))
			return
		}
		_, onStatus, _ := c.handlers.snapshot()
		onStatus(ctx, push.Signal, meta)
	})
}

// dispatch runs fn after the response has been written. A panic inside a
// user handler is converted into an error for the error handler.
func (c *Client) dispatch(endpoint string, fn func()) {
	safe.Go(c.log, fn, func(pe *safe.PanicError) {
		c.reportError(fmt.Errorf("feedclient: %s handler: %w", endpoint, pe))
	})
}
