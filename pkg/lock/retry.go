package lock

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/config"
	"github.com/cuemby/zoom/pkg/log"
	"github.com/cuemby/zoom/pkg/metrics"
	"github.com/cuemby/zoom/pkg/registry"
	"github.com/cuemby/zoom/pkg/txn"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

// Retry acquires topology, opens a fresh transaction, runs body against it
// and commits, retrying the whole attempt when the failure was a
// ConcurrentModificationError. It gives up after cfg.TransactionAttempts
// total attempts and returns the last error seen. Any other failure from
// body or Commit aborts immediately without retrying.
func Retry(ctx context.Context, be backend.Backend, catalog *registry.Catalog, cfg config.Config, topology *TopologyLock, owner string, body func(tx *txn.Transaction) error) error {
	lg := log.WithComponent("retry")

	var lastErr error
	for attempt := 0; attempt < cfg.TransactionAttempts; attempt++ {
		if attempt > 0 {
			metrics.TxRetriesTotal.Inc()
		}

		lease, err := topology.Acquire(ctx)
		if err != nil {
			return err
		}

		err = attemptOnce(ctx, be, catalog, cfg, owner, body)

		if relErr := lease.Release(ctx); relErr != nil {
			lg.Error().Err(relErr).Msg("failed to release topology lock")
		}

		if err == nil {
			return nil
		}
		lastErr = err

		var cm *zoomerr.ConcurrentModificationError
		if !errors.As(err, &cm) {
			return err
		}
		logRetry(lg, attempt, err)
	}
	return lastErr
}

func logRetry(lg zerolog.Logger, attempt int, err error) {
	lg.Warn().Err(err).Int("attempt", attempt).Msg("retrying transaction after concurrent modification")
}

func attemptOnce(ctx context.Context, be backend.Backend, catalog *registry.Catalog, cfg config.Config, owner string, body func(tx *txn.Transaction) error) error {
	tx, err := txn.Open(ctx, be, catalog, cfg, owner)
	if err != nil {
		return err
	}
	if err := body(tx); err != nil {
		tx.Cancel(ctx)
		return err
	}
	return tx.Commit(ctx)
}
