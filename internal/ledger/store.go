package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// withSerializableTx runs fn inside a SERIALIZABLE transaction (§4.7: "all
// ledger methods run inside one database transaction with SERIALIZABLE or
// at minimum REPEATABLE READ"). fn's own errors pass through unwrapped so
// callers can match ErrInsufficientBalance and isUniqueViolation.
func (l *Ledger) withSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
