package streams

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Pruner removes stream records older than the retention window and advances
// each stream's trim position so DescribeStream reports the surviving range.
type Pruner struct {
	db        *sqlx.DB
	clock     clockwork.Clock
	logger    *zap.Logger
	retention time.Duration
	interval  time.Duration
}

// NewPruner builds the retention worker. Retention defaults to 24h and the
// sweep interval to 1m when zero.
func NewPruner(db *sqlx.DB, clock clockwork.Clock, logger *zap.Logger, retention, interval time.Duration) *Pruner {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Pruner{db: db, clock: clock, logger: logger, retention: retention, interval: interval}
}

// Run prunes on the configured interval until the context is cancelled.
// An in-flight sweep finishes before the worker stops.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := p.PruneOnce(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("stream retention sweep failed", zap.Error(err))
			}
		}
	}
}

// PruneOnce removes all records past retention in one pass.
func (p *Pruner) PruneOnce(ctx context.Context) error {
	cutoff := p.clock.Now().Add(-p.retention).UnixMilli()

	res, err := p.db.ExecContext(ctx,
		p.db.Rebind(`DELETE FROM stream_records WHERE created_at < ?`), cutoff)
	if err != nil {
		return err
	}

	// Advance trim positions to the earliest surviving record.
	_, err = p.db.ExecContext(ctx, `
		UPDATE streams SET trim_seq = COALESCE(
			(SELECT MIN(seq) - 1 FROM stream_records WHERE stream_records.stream_arn = streams.stream_arn),
			streams.next_seq - 1)`)
	if err != nil {
		return err
	}

	if pruned, err := res.RowsAffected(); err == nil && pruned > 0 {
		p.logger.Info("pruned stream records", zap.Int64("records", pruned))
	}
	return nil
}
