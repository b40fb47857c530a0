package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Snapshot is one observation of a reconciled price.
type Snapshot struct {
	Symbol        string
	Kind          string // equity or index
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        float64
	QuoteTs       int64 // ms, time of Price
	Session       string
	Mode          string
	CapturedAt    time.Time
}

// BatchSender is the part of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type snapshotRow struct {
	Symbol        string
	Kind          string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        float64
	QuoteTs       int64
	CapturedAt    int64 // µs
	Session       string
	Mode          string
}

const insertSnapshot = `
	INSERT INTO price_snapshots (symbol, kind, price, change, change_percent, volume, quote_ts, captured_at, session, mode)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (symbol, quote_ts) DO NOTHING
`

// SnapshotWriter drains snapshots from a buffer into price_snapshots.
type SnapshotWriter struct {
	cfg    WriterConfig
	logger *slog.Logger
	input  *GrowableBuffer[Snapshot]
	db     BatchSender

	batch   []snapshotRow
	batchMu sync.Mutex
	metrics WriterMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotWriter creates a writer. Zero config fields take defaults.
func NewSnapshotWriter(cfg WriterConfig, input *GrowableBuffer[Snapshot], db BatchSender, logger *slog.Logger) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &SnapshotWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("writer", "snapshots"),
		batch:  make([]snapshotRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming the input buffer.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("snapshot writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop waits for the loops to exit, then writes whatever is buffered.
func (w *SnapshotWriter) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("snapshot writer stop timed out")
	}

	for _, s := range w.input.DrainTo(0) {
		w.handleSnapshot(ctx, s)
	}
	w.flushWith(ctx)

	w.logger.Info("snapshot writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns a copy of the counters.
func (w *SnapshotWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *SnapshotWriter) consumeLoop() {
	defer w.wg.Done()

	idle := time.NewTicker(10 * time.Millisecond)
	defer idle.Stop()

	for {
		s, ok := w.input.TryReceive()
		if ok {
			w.handleSnapshot(w.ctx, s)
			continue
		}
		select {
		case <-w.ctx.Done():
			return
		case <-idle.C:
		}
	}
}

func (w *SnapshotWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushWith(w.ctx)
		}
	}
}

func (w *SnapshotWriter) handleSnapshot(ctx context.Context, s Snapshot) {
	row, ok := transform(s)

	w.batchMu.Lock()
	if !ok {
		w.metrics.Skipped++
		w.batchMu.Unlock()
		return
	}
	w.batch = append(w.batch, row)
	full := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if full {
		w.flushWith(ctx)
	}
}

// transform maps a snapshot to a row. Snapshots that never had a price
// are not stored.
func transform(s Snapshot) (snapshotRow, bool) {
	if s.Symbol == "" || s.QuoteTs <= 0 {
		return snapshotRow{}, false
	}
	captured := s.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	return snapshotRow{
		Symbol:        s.Symbol,
		Kind:          s.Kind,
		Price:         s.Price,
		Change:        s.Change,
		ChangePercent: s.ChangePercent,
		Volume:        s.Volume,
		QuoteTs:       s.QuoteTs,
		CapturedAt:    captured.UnixMicro(),
		Session:       s.Session,
		Mode:          s.Mode,
	}, true
}

func (w *SnapshotWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	rows := w.batch
	w.batch = make([]snapshotRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.logger.Debug("no database, dropping batch", "count", len(rows))
		return
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, rows)

	w.batchMu.Lock()
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Inserts += int64(len(rows) - conflicts)
		w.metrics.Conflicts += int64(conflicts)
		w.metrics.Flushes++
	}
	w.batchMu.Unlock()

	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		return
	}
	w.logger.Debug("flushed snapshots",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *SnapshotWriter) batchInsert(ctx context.Context, rows []snapshotRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSnapshot,
			r.Symbol, r.Kind, r.Price, r.Change, r.ChangePercent, r.Volume,
			r.QuoteTs, r.CapturedAt, r.Session, r.Mode)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
