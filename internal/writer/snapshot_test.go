package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB accepts every row except keys already seen, mirroring the
// unique (symbol, quote_ts) constraint.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[string]bool
	batches int
	err     error
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
	i    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches++
	if db.err != nil {
		return &fakeResults{err: db.err}
	}
	if db.seen == nil {
		db.seen = make(map[string]bool)
	}
	res := &fakeResults{}
	for _, q := range b.QueuedQueries {
		key := fmt.Sprintf("%s@%d", q.Arguments[0], q.Arguments[6])
		if db.seen[key] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		db.seen[key] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (db *fakeDB) rows() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.seen)
}

func snap(symbol string, ts int64) Snapshot {
	return Snapshot{
		Symbol:     symbol,
		Kind:       "equity",
		Price:      190.25,
		QuoteTs:    ts,
		Session:    "open",
		Mode:       "streaming",
		CapturedAt: time.UnixMilli(ts + 5),
	}
}

func TestTransform(t *testing.T) {
	tests := []struct {
		name string
		in   Snapshot
		ok   bool
	}{
		{name: "priced", in: snap("AAPL", 1700000000000), ok: true},
		{name: "no symbol", in: snap("", 1700000000000)},
		{name: "never priced", in: snap("AAPL", 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, ok := transform(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if row.CapturedAt != tt.in.CapturedAt.UnixMicro() {
				t.Errorf("CapturedAt = %d, want %d", row.CapturedAt, tt.in.CapturedAt.UnixMicro())
			}
			if row.QuoteTs != tt.in.QuoteTs || row.Mode != "streaming" {
				t.Errorf("row = %+v", row)
			}
		})
	}
}

func TestSnapshotWriter_FlushCountsConflicts(t *testing.T) {
	db := &fakeDB{}
	w := NewSnapshotWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, NewGrowableBuffer[Snapshot](4), db, nil)
	ctx := context.Background()

	w.handleSnapshot(ctx, snap("AAPL", 1000))
	w.handleSnapshot(ctx, snap("MSFT", 1000))
	w.handleSnapshot(ctx, snap("AAPL", 1000))
	w.handleSnapshot(ctx, snap("AAPL", 0))
	w.flushWith(ctx)

	stats := w.Stats()
	if stats.Inserts != 2 || stats.Conflicts != 1 || stats.Skipped != 1 || stats.Flushes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSnapshotWriter_FlushesWhenBatchFull(t *testing.T) {
	db := &fakeDB{}
	w := NewSnapshotWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, NewGrowableBuffer[Snapshot](4), db, nil)
	ctx := context.Background()

	w.handleSnapshot(ctx, snap("AAPL", 1))
	if db.rows() != 0 {
		t.Fatal("flushed before batch was full")
	}
	w.handleSnapshot(ctx, snap("AAPL", 2))
	if db.rows() != 2 {
		t.Errorf("rows = %d, want 2", db.rows())
	}
}

func TestSnapshotWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewSnapshotWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, NewGrowableBuffer[Snapshot](4), db, nil)
	ctx := context.Background()

	w.handleSnapshot(ctx, snap("AAPL", 1))
	w.flushWith(ctx)

	if stats := w.Stats(); stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSnapshotWriter_Lifecycle(t *testing.T) {
	db := &fakeDB{}
	input := NewGrowableBuffer[Snapshot](16)
	w := NewSnapshotWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		input.Send(snap("AAPL", i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for db.rows() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rows() != 5 {
		t.Fatalf("rows = %d after periodic flush, want 5", db.rows())
	}

	// Queued after the loops stop: Stop still drains and writes them.
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.cancel()
	input.Send(snap("MSFT", 9))
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if db.rows() != 6 {
		t.Errorf("rows = %d after Stop, want 6", db.rows())
	}
}

func TestSnapshotWriter_NilDatabase(t *testing.T) {
	w := NewSnapshotWriter(WriterConfig{}, NewGrowableBuffer[Snapshot](1), nil, nil)
	ctx := context.Background()
	w.handleSnapshot(ctx, snap("AAPL", 1))
	w.flushWith(ctx)
	if stats := w.Stats(); stats.Flushes != 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
}
