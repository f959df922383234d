package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

type Adapter struct {
	db *sql.DB
	tx *sql.Tx

	stmts *preparedStatements
}

type preparedStatements struct {
	putCredential          *sql.Stmt
	replaceCredential      *sql.Stmt
	getCredentialBySubject *sql.Stmt
	deleteCredential       *sql.Stmt

	putCredentialEvent           *sql.Stmt
	listCredentialEventBySubject *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "put credential",
		query: putCredentialQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putCredential = stmt
		},
	},
	{
		label: "replace credential",
		query: replaceCredentialQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.replaceCredential = stmt
		},
	},
	{
		label: "get credential by subject",
		query: getCredentialBySubjectQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getCredentialBySubject = stmt
		},
	},
	{
		label: "delete credential",
		query: deleteCredentialQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteCredential = stmt
		},
	},
	{
		label: "put credential event",
		query: putCredentialEventQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putCredentialEvent = stmt
		},
	},
	{
		label: "list credential event by subject",
		query: listCredentialEventBySubjectQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.listCredentialEventBySubject = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.CredentialStore = (*Adapter)(nil)
var _ storage.CredentialLogStore = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db:    db,
		stmts: &preparedStatements{},
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a == nil || a.stmts == nil || a.tx != nil {
		return nil
	}

	return closeStatements(
		a.stmts.putCredential,
		a.stmts.replaceCredential,
		a.stmts.getCredentialBySubject,
		a.stmts.deleteCredential,
		a.stmts.putCredentialEvent,
		a.stmts.listCredentialEventBySubject,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
			a.stmts = &preparedStatements{}
		}
	}()

	for _, entry := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(entry.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", entry.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		entry.assign(a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putCredential == nil || a.stmts.replaceCredential == nil || a.stmts.getCredentialBySubject == nil || a.stmts.deleteCredential == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putCredentialEvent == nil || a.stmts.listCredentialEventBySubject == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

// stmt binds a prepared statement to the adapter's transaction when it has
// one. The returned func releases the transaction-bound copy.
func (a *Adapter) stmt(ctxStmt func(*sql.Tx) *sql.Stmt, base *sql.Stmt) (*sql.Stmt, func()) {
	if a.tx == nil {
		return base, func() {}
	}
	bound := ctxStmt(a.tx)
	return bound, func() { _ = bound.Close() }
}

type scanner interface {
	Scan(dest ...any) error
}

// translateError maps driver errors onto storage sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
