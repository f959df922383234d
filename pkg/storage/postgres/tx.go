package postgres

import (
	"context"
	"errors"

	"github.com/porthorian/hashpolicy/pkg/storage"
)

var errNilTxCallback = errors.New("postgres adapter: transaction callback is nil")

// WithTx runs fn against a store bound to one transaction. The transaction
// commits only when fn returns nil.
func (a *Adapter) WithTx(ctx context.Context, fn func(store storage.Store) error) error {
	if fn == nil {
		return errNilTxCallback
	}

	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	db, err := a.requireDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txAdapter := &Adapter{
		db:    a.db,
		tx:    tx,
		stmts: a.stmts,
	}

	if err := fn(txAdapter); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	return nil
}
