// Package ttl runs the background expiry sweep: items whose TTL attribute
// holds an epoch-seconds value at or before "now" are removed through the
// standard delete pipeline, marked with a service identity on the stream.
package ttl

import (
	"context"
	"time"

	"github.com/pretenderdb/pretender/dynamo/sqlstore"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultPrincipal is the userIdentity principal stamped on TTL deletes,
// matching what DynamoDB emits for its own expiry service.
const DefaultPrincipal = "dynamodb.amazonaws.com"

// Sweeper periodically removes expired items. The sweep is best-effort:
// while the worker is down, expired items simply remain queryable.
type Sweeper struct {
	store     *sqlstore.Store
	clock     clockwork.Clock
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	principal string
}

// Config tunes the sweeper; zero values get defaults (60s interval, batches
// of 500, the DynamoDB service principal).
type Config struct {
	Interval  time.Duration
	BatchSize int
	Principal string
}

// New builds a sweeper over the store.
func New(store *sqlstore.Store, logger *zap.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Principal == "" {
		cfg.Principal = DefaultPrincipal
	}
	return &Sweeper{
		store:     store,
		clock:     store.Clock(),
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		principal: cfg.Principal,
	}
}

// Run sweeps on the configured interval until the context is cancelled; an
// in-flight sweep finishes its batch before the worker stops.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if _, err := s.SweepOnce(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("ttl sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce removes one batch of expired items and reports how many went.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now().Unix()
	removed, err := s.store.SweepExpired(ctx, now, s.batchSize, s.principal)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("ttl sweep removed expired items", zap.Int("items", removed))
	}
	return removed, nil
}
