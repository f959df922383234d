package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

const (
	putCredentialEventQuery = `
INSERT INTO hashpolicy.credential_event (
  id, credential_id, subject, event, occurred_at, metadata
) VALUES ($1, $2, $3, $4, $5, $6)
`

	listCredentialEventBySubjectQuery = `
SELECT
  id::text, credential_id, subject, event, occurred_at, metadata
FROM hashpolicy.credential_event
WHERE subject = $1
ORDER BY occurred_at ASC
`
)

func (a *Adapter) PutCredentialLog(ctx context.Context, record storage.CredentialLogRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(storage.CloneMetadata(record.Metadata))
	if err != nil {
		return err
	}

	stmt, release := a.stmt(func(tx *sql.Tx) *sql.Stmt {
		return tx.StmtContext(ctx, a.stmts.putCredentialEvent)
	}, a.stmts.putCredentialEvent)
	defer release()

	_, err = stmt.ExecContext(
		ctx,
		record.ID,
		record.CredentialID,
		record.Subject,
		string(record.Event),
		occurredAt.UTC(),
		string(metadata),
	)
	return translateError(err)
}

func (a *Adapter) ListCredentialLogsBySubject(ctx context.Context, subject string) ([]storage.CredentialLogRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	stmt, release := a.stmt(func(tx *sql.Tx) *sql.Stmt {
		return tx.StmtContext(ctx, a.stmts.listCredentialEventBySubject)
	}, a.stmts.listCredentialEventBySubject)
	defer release()

	rows, err := stmt.QueryContext(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []storage.CredentialLogRecord{}
	for rows.Next() {
		record, err := scanCredentialEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func scanCredentialEvent(s scanner) (storage.CredentialLogRecord, error) {
	var (
		record   storage.CredentialLogRecord
		event    string
		metadata []byte
	)

	if err := s.Scan(
		&record.ID,
		&record.CredentialID,
		&record.Subject,
		&event,
		&record.OccurredAt,
		&metadata,
	); err != nil {
		return storage.CredentialLogRecord{}, err
	}

	record.Event = storage.CredentialEvent(event)
	record.OccurredAt = record.OccurredAt.UTC()
	record.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return storage.CredentialLogRecord{}, err
		}
	}

	return record, nil
}
