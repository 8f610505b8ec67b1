package timescaledb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/sink"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls  []execCall
	err    error
	closed bool
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}
func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close()                     { f.closed = true }

func TestWrite_Args(t *testing.T) {
	fdb := &fakeDB{}
	w := &Writer{db: fdb, log: logger.Nop()}

	when := time.Date(2024, 3, 5, 9, 30, 0, 0, time.FixedZone("X", 3600))
	received := time.Date(2024, 3, 5, 8, 30, 1, 0, time.UTC)
	rec := sink.Record{
		When:       when,
		Tickers:    []string{"AAPL"},
		Payload:    map[string]any{"px": 1.5},
		RequestID:  "r1",
		ReceivedAt: received,
	}
	if err := w.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(fdb.calls) != 1 {
		t.Fatalf("exec calls = %d", len(fdb.calls))
	}
	call := fdb.calls[0]
	if !strings.Contains(call.sql, "INSERT INTO feed_envelopes") {
		t.Errorf("sql = %q", call.sql)
	}
	rid := "r1"
	want := []any{
		when.UTC(),
		[]string{"AAPL"},
		[]byte(`{"px":1.5}`),
		(*string)(nil),
		&rid,
		received,
	}
	if diff := cmp.Diff(want, call.args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

func TestWrite_NilTickersBecomeEmptyArray(t *testing.T) {
	fdb := &fakeDB{}
	w := &Writer{db: fdb, log: logger.Nop()}
	if err := w.Write(context.Background(), sink.Record{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := fdb.calls[0].args[1].([]string); got == nil || len(got) != 0 {
		t.Errorf("tickers arg = %#v", got)
	}
}

func TestWrite_ExecError(t *testing.T) {
	boom := errors.New("relation does not exist")
	w := &Writer{db: &fakeDB{err: boom}, log: logger.Nop()}
	if err := w.Write(context.Background(), sink.Record{}); !errors.Is(err, boom) {
		t.Fatalf("expected exec error, got %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	fdb := &fakeDB{}
	w := &Writer{db: fdb, log: logger.Nop()}
	if err := w.ensureSchema(context.Background()); err != nil {
		t.Fatalf("ensureSchema: %v", err)
	}
	if !strings.Contains(fdb.calls[0].sql, "create_hypertable") {
		t.Errorf("schema sql = %q", fdb.calls[0].sql)
	}
}

func TestNew_RequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), Config{}, logger.Nop()); err == nil {
		t.Fatal("expected error without DSN")
	}
	if _, err := New(context.Background(), Config{DSN: "::not a dsn::"}, logger.Nop()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClose(t *testing.T) {
	fdb := &fakeDB{}
	w := &Writer{db: fdb, log: logger.Nop()}
	if err := w.Close(); err != nil || !fdb.closed {
		t.Errorf("Close() = %v closed=%v", err, fdb.closed)
	}
}
