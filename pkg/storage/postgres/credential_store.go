package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/porthorian/hashpolicy/pkg/storage"
)

const (
	putCredentialQuery = `
INSERT INTO hashpolicy.password_credential (
  id, subject, algorithm, cost, salt, secret, date_added, date_modified
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (subject) DO UPDATE
SET
  id = EXCLUDED.id,
  algorithm = EXCLUDED.algorithm,
  cost = EXCLUDED.cost,
  salt = EXCLUDED.salt,
  secret = EXCLUDED.secret,
  date_added = EXCLUDED.date_added,
  date_modified = EXCLUDED.date_modified
`

	replaceCredentialQuery = `
UPDATE hashpolicy.password_credential
SET
  algorithm = $4,
  cost = $5,
  salt = $6,
  secret = $7,
  date_modified = $8
WHERE subject = $1 AND id = $2 AND secret = $3
`

	getCredentialBySubjectQuery = `
SELECT
  id::text, subject, algorithm, cost, salt, secret, date_added, date_modified
FROM hashpolicy.password_credential
WHERE subject = $1
`

	deleteCredentialQuery = `DELETE FROM hashpolicy.password_credential WHERE id = $1`
)

func (a *Adapter) PutCredential(ctx context.Context, record storage.PasswordCredential) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	var dateModified any
	if record.DateModified != nil {
		dateModified = record.DateModified.UTC()
	}

	salt := record.Salt
	if salt == nil {
		salt = []byte{}
	}

	stmt, release := a.stmt(func(tx *sql.Tx) *sql.Stmt {
		return tx.StmtContext(ctx, a.stmts.putCredential)
	}, a.stmts.putCredential)
	defer release()

	_, err := stmt.ExecContext(
		ctx,
		record.ID,
		record.Subject,
		record.Algorithm,
		record.Cost,
		salt,
		record.Secret,
		dateAdded.UTC(),
		dateModified,
	)
	return translateError(err)
}

func (a *Adapter) ReplaceCredential(ctx context.Context, expected storage.PasswordCredential, record storage.PasswordCredential) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}
	if record.ID != expected.ID {
		return storage.ErrConflict
	}

	var dateModified any
	if record.DateModified != nil {
		dateModified = record.DateModified.UTC()
	}

	salt := record.Salt
	if salt == nil {
		salt = []byte{}
	}

	stmt, release := a.stmt(func(tx *sql.Tx) *sql.Stmt {
		return tx.StmtContext(ctx, a.stmts.replaceCredential)
	}, a.stmts.replaceCredential)
	defer release()

	result, err := stmt.ExecContext(
		ctx,
		record.Subject,
		expected.ID,
		expected.Secret,
		record.Algorithm,
		record.Cost,
		salt,
		record.Secret,
		dateModified,
	)
	if err != nil {
		return translateError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (a *Adapter) GetCredentialBySubject(ctx context.Context, subject string) (storage.PasswordCredential, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.PasswordCredential{}, err
	}

	stmt, release := a.stmt(func(tx *sql.Tx) *sql.Stmt {
		return tx.StmtContext(ctx, a.stmts.getCredentialBySubject)
	}, a.stmts.getCredentialBySubject)
	defer release()

	record, err := scanCredential(stmt.QueryRowContext(ctx, subject))
	if err != nil {
		return storage.PasswordCredential{}, translateError(err)
	}
	return record, nil
}

func (a *Adapter) DeleteCredential(ctx context.Context, id string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	stmt, release := a.stmt(func(tx *sql.Tx) *sql.Stmt {
		return tx.StmtContext(ctx, a.stmts.deleteCredential)
	}, a.stmts.deleteCredential)
	defer release()

	_, err := stmt.ExecContext(ctx, id)
	return translateError(err)
}

func scanCredential(s scanner) (storage.PasswordCredential, error) {
	var (
		record       storage.PasswordCredential
		dateModified sql.NullTime
	)

	if err := s.Scan(
		&record.ID,
		&record.Subject,
		&record.Algorithm,
		&record.Cost,
		&record.Salt,
		&record.Secret,
		&record.DateAdded,
		&dateModified,
	); err != nil {
		return storage.PasswordCredential{}, err
	}

	record.DateAdded = record.DateAdded.UTC()
	if record.Salt == nil {
		record.Salt = []byte{}
	}
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		record.DateModified = &t
	}

	return record, nil
}
