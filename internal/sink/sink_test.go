package sink_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/sink"
	"github.com/YaganovValera/feedbridge/pkg/envelope"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

type fakeSink struct {
	name     string
	writeErr error
	pingErr  error
	closeErr error

	mu      sync.Mutex
	records []sink.Record
	closed  int
	order   *[]string
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(_ context.Context, rec sink.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.writeErr
}

func (f *fakeSink) Ping(context.Context) error { return f.pingErr }

func (f *fakeSink) Close() error {
	f.closed++
	if f.order != nil {
		*f.order = append(*f.order, f.name)
	}
	return f.closeErr
}

// noPing hides Ping.
type noPing struct{ *fakeSink }

func (n noPing) Ping() {}

func TestFanout_WritesAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	a := &fakeSink{name: "a", writeErr: errA}
	b := &fakeSink{name: "b"}
	f := sink.NewFanout(logger.Nop(), a, b)

	rec := sink.Record{Tickers: []string{"AAPL"}, Payload: 1.0}
	err := f.Write(context.Background(), rec)
	if !errors.Is(err, errA) {
		t.Fatalf("expected errA in joined error, got %v", err)
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("records: a=%d b=%d, want 1 each", len(a.records), len(b.records))
	}
	if diff := cmp.Diff(rec, b.records[0]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if f.Len() != 2 {
		t.Errorf("Len() = %d", f.Len())
	}
}

func TestFanout_PingOnlyPingers(t *testing.T) {
	bad := errors.New("unreachable")
	f := sink.NewFanout(logger.Nop(),
		&fakeSink{name: "ok"},
		noPing{&fakeSink{name: "quiet", pingErr: errors.New("never asked")}},
		&fakeSink{name: "bad", pingErr: bad},
	)
	err := f.Ping(context.Background())
	if !errors.Is(err, bad) {
		t.Fatalf("expected bad in chain, got %v", err)
	}
}

func TestFanout_CloseReverseOrder(t *testing.T) {
	var order []string
	boom := errors.New("close failed")
	f := sink.NewFanout(logger.Nop(),
		&fakeSink{name: "first", order: &order},
		&fakeSink{name: "second", order: &order, closeErr: boom},
	)
	if err := f.Close(); !errors.Is(err, boom) {
		t.Fatalf("expected close error, got %v", err)
	}
	if diff := cmp.Diff([]string{"second", "first"}, order); diff != "" {
		t.Errorf("close order (-want +got):\n%s", diff)
	}
}

func TestFromEnvelope(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"bid":1.5}`))
	_ = zw.Close()

	d, err := envelope.New("2024-03-05T09:30:00Z", []string{"eurusd"}, base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	received := time.Date(2024, 3, 5, 9, 30, 1, 0, time.UTC)
	rec, err := sink.FromEnvelope(d, feedclient.RequestMeta{RemoteAddr: "10.0.0.1", RequestID: "r1", ReceivedAt: received})
	if err != nil {
		t.Fatalf("FromEnvelope: %v", err)
	}
	want := sink.Record{
		When:       time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		Tickers:    []string{"EURUSD"},
		Payload:    map[string]any{"bid": json.Number("1.5")},
		RemoteAddr: "10.0.0.1",
		RequestID:  "r1",
		ReceivedAt: received,
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestFromEnvelope_DecodeError(t *testing.T) {
	d, err := envelope.New("2024-03-05", nil, base64.StdEncoding.EncodeToString([]byte("plain")))
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	if _, err := sink.FromEnvelope(d, feedclient.RequestMeta{}); !errors.Is(err, envelope.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}
