// Package envelope wraps one inbound market-data push: a timestamp, the
// tickers it covers and a gzip-compressed JSON payload that is decoded
// lazily, at most once.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type state uint8

const (
	stateEmpty state = iota
	stateCompressed
	stateDecoded
)

// payload is a tagged union: raw is meaningful only in stateCompressed,
// value only in stateDecoded.
type payload struct {
	state state
	raw   []byte
	value any
}

// Data is safe for concurrent use.
type Data struct {
	when    time.Time
	tickers []string

	mu      sync.Mutex
	payload payload
	inflate Inflater
}

// Option configures New.
type Option func(*options)

type options struct {
	inflater Inflater
	loc      *time.Location
}

// WithInflater replaces the gzip inflater.
func WithInflater(in Inflater) Option {
	return func(o *options) {
		if in != nil {
			o.inflater = in
		}
	}
}

// WithLocation sets the location used for timestamps without an offset.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// New builds an envelope in the compressed state.
func New(rawWhen string, rawTickers []string, b64Payload string, opts ...Option) (*Data, error) {
	o := options{inflater: Gzip, loc: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}

	when, err := parseWhen(rawWhen, o.loc)
	if err != nil {
		return nil, err
	}
	raw, err := decodeBase64(b64Payload)
	if err != nil {
		return nil, err
	}
	return &Data{
		when:    when,
		tickers: normalizeTickers(rawTickers),
		payload: payload{state: stateCompressed, raw: raw},
		inflate: o.inflater,
	}, nil
}

func (d *Data) When() time.Time { return d.when }

// Tickers returns a copy of the uppercased tickers in input order.
func (d *Data) Tickers() []string {
	out := make([]string, len(d.tickers))
	copy(out, d.tickers)
	return out
}

// Decoded reports whether the payload has already been resolved.
func (d *Data) Decoded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.payload.state == stateDecoded
}

// Payload returns the decoded JSON value. The first successful call
// inflates and parses the buffer, then drops it; later calls return the
// cached value. On failure the buffer is kept and the next call retries.
// JSON numbers come back as json.Number.
func (d *Data) Payload() (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.payload.state {
	case stateDecoded:
		return d.payload.value, nil
	case stateCompressed:
	default:
		return nil, ErrInvalidState
	}

	inflate := d.inflate
	if inflate == nil {
		inflate = Gzip
	}
	text, err := inflate.Inflate(d.payload.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrDecode, err)
	}
	v, err := parseJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	d.payload = payload{state: stateDecoded, value: v}
	return v, nil
}

// parseJSON keeps numbers as json.Number so large integers survive.
func parseJSON(text []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// Decode resolves the payload and converts it into v, which must be a
// pointer, the same way encoding/json would.
func (d *Data) Decode(v any) error {
	val, err := d.Payload()
	if err != nil {
		return err
	}
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("%w: re-encode: %v", ErrDecode, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: into %T: %v", ErrDecode, v, err)
	}
	return nil
}

// MarshalJSON resolves the payload and renders the envelope.
func (d *Data) MarshalJSON() ([]byte, error) {
	val, err := d.Payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		When    string   `json:"when"`
		Tickers []string `json:"tickers"`
		Payload any      `json:"payload"`
	}{
		When:    d.when.Format(time.RFC3339Nano),
		Tickers: d.Tickers(),
		Payload: val,
	})
}
