package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrConflict = errors.New("storage: record conflict")
)

// PasswordCredential is the durable form of a hashed password. Secret is
// self-describing and sufficient for verification; Cost mirrors the cost
// embedded in Secret so policy checks never parse it. Salt stays empty for
// schemes that embed their salt in Secret.
type PasswordCredential struct {
	ID           string
	Subject      string
	Algorithm    string
	Cost         int
	Salt         []byte
	Secret       string
	DateAdded    time.Time
	DateModified *time.Time
}

type CredentialEvent string

const (
	CredentialEventCreated      CredentialEvent = "created"
	CredentialEventVerified     CredentialEvent = "verified"
	CredentialEventVerifyFailed CredentialEvent = "verify_failed"
	CredentialEventMalformed    CredentialEvent = "malformed"
	CredentialEventRehashed     CredentialEvent = "rehashed"
)

type CredentialLogRecord struct {
	ID           string
	CredentialID string
	Subject      string
	Event        CredentialEvent
	OccurredAt   time.Time
	Metadata     map[string]string
}

// CredentialStore holds at most one password credential per subject.
// PutCredential replaces any existing credential for record.Subject.
// ReplaceCredential writes record only while the stored credential for
// record.Subject still has expected's ID and Secret, and returns ErrConflict
// otherwise, including when no credential is stored.
type CredentialStore interface {
	PutCredential(ctx context.Context, record PasswordCredential) error
	ReplaceCredential(ctx context.Context, expected PasswordCredential, record PasswordCredential) error
	GetCredentialBySubject(ctx context.Context, subject string) (PasswordCredential, error)
	DeleteCredential(ctx context.Context, id string) error
}

type CredentialLogStore interface {
	PutCredentialLog(ctx context.Context, record CredentialLogRecord) error
	ListCredentialLogsBySubject(ctx context.Context, subject string) ([]CredentialLogRecord, error)
}

type Store interface {
	CredentialStore
	CredentialLogStore
}

// CloneCredential returns a copy of record that shares no memory with it.
func CloneCredential(record PasswordCredential) PasswordCredential {
	salt := make([]byte, len(record.Salt))
	copy(salt, record.Salt)
	record.Salt = salt

	if record.DateModified != nil {
		modified := *record.DateModified
		record.DateModified = &modified
	}
	return record
}

func CloneMetadata(metadata map[string]string) map[string]string {
	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
