package core

import (
	"context"

	"github.com/olyamironova/matching-core/internal/port"
	"go.uber.org/zap"
)

// inTx runs fn in a repository transaction and commits it. When fn or the
// commit fails the transaction is rolled back; a failed rollback is logged
// and counted but the original error is what the caller sees.
func (e *Engine) inTx(ctx context.Context, log *zap.Logger, fn func(port.Tx) error) (err error) {
	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.sideEffectFailed(log, "rollback", rbErr)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
