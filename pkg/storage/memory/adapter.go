package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

var ErrSubjectRequired = errors.New("memory store: subject is required")

// Adapter keeps credentials and their event log in process memory. It is
// meant for tests and single-process deployments.
type Adapter struct {
	mu          sync.RWMutex
	credentials map[string]storage.PasswordCredential
	logs        map[string][]storage.CredentialLogRecord
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		credentials: map[string]storage.PasswordCredential{},
		logs:        map[string][]storage.CredentialLogRecord{},
	}
}

func (a *Adapter) PutCredential(ctx context.Context, record storage.PasswordCredential) error {
	if strings.TrimSpace(record.Subject) == "" {
		return ErrSubjectRequired
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for subject, existing := range a.credentials {
		if existing.ID == record.ID && subject != record.Subject {
			return storage.ErrConflict
		}
	}
	a.credentials[record.Subject] = storage.CloneCredential(record)
	return nil
}

func (a *Adapter) ReplaceCredential(ctx context.Context, expected storage.PasswordCredential, record storage.PasswordCredential) error {
	if strings.TrimSpace(record.Subject) == "" {
		return ErrSubjectRequired
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.credentials[record.Subject]
	if !ok || current.ID != expected.ID || current.Secret != expected.Secret || record.ID != current.ID {
		return storage.ErrConflict
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = current.DateAdded
	}
	a.credentials[record.Subject] = storage.CloneCredential(record)
	return nil
}

func (a *Adapter) GetCredentialBySubject(ctx context.Context, subject string) (storage.PasswordCredential, error) {
	a.mu.RLock()
	record, ok := a.credentials[subject]
	a.mu.RUnlock()
	if !ok {
		return storage.PasswordCredential{}, storage.ErrNotFound
	}

	return storage.CloneCredential(record), nil
}

func (a *Adapter) DeleteCredential(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for subject, record := range a.credentials {
		if record.ID == id {
			delete(a.credentials, subject)
			return nil
		}
	}
	return nil
}

func (a *Adapter) PutCredentialLog(ctx context.Context, record storage.CredentialLogRecord) error {
	if strings.TrimSpace(record.Subject) == "" {
		return ErrSubjectRequired
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}
	record.Metadata = storage.CloneMetadata(record.Metadata)

	a.mu.Lock()
	a.logs[record.Subject] = append(a.logs[record.Subject], record)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ListCredentialLogsBySubject(ctx context.Context, subject string) ([]storage.CredentialLogRecord, error) {
	a.mu.RLock()
	entries := a.logs[subject]
	records := make([]storage.CredentialLogRecord, 0, len(entries))
	for _, entry := range entries {
		entry.Metadata = storage.CloneMetadata(entry.Metadata)
		records = append(records, entry)
	}
	a.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OccurredAt.Before(records[j].OccurredAt)
	})
	return records, nil
}
