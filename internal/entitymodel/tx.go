package entitymodel

import (
	"context"
	"errors"
	"fmt"

	"praxis/internal/engine"
)

// InTx runs fn between plain-SQL BEGIN TRANSACTION and COMMIT, rolling back
// when fn or the commit fails.
func InTx(ctx context.Context, eng *engine.Engine, fn func() error) error {
	if _, err := eng.Exec(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := eng.Exec(ctx, "ROLLBACK"); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if _, err := eng.Exec(ctx, "COMMIT"); err != nil {
		_, _ = eng.Exec(ctx, "ROLLBACK")
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertAll ensures m's table exists and inserts items.
func InsertAll[T any](ctx context.Context, eng *engine.Engine, m Model[T], items ...T) error {
	b, err := Ensure(ctx, eng, m.Table)
	if err != nil {
		return err
	}
	return b.Insert(ctx, eng, m.Records(items...)...)
}

// HasEntityTable reports whether eng contains at least one canonical or
// legacy entity table.
func HasEntityTable(ctx context.Context, eng *engine.Engine) (bool, error) {
	tables, err := eng.Tables(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range tables {
		if IsKnownTable(name) {
			return true, nil
		}
	}
	return false, nil
}
