package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/hashpolicy/pkg/storage"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultNamespace     = "hashpolicy"
	defaultMaxLogEntries = 100
	maxWatchRetries      = 5
)

var (
	ErrSubjectRequired = errors.New("redis store: subject is required")
	ErrAddressRequired = errors.New("redis store: address is required")
)

type Config struct {
	Address       string        `yaml:"address"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Database      int           `yaml:"database"`
	Namespace     string        `yaml:"namespace"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	MaxLogEntries int           `yaml:"max_log_entries"`
}

// Adapter stores one hash per subject plus an id index so credentials can be
// deleted by id. Event logs are capped lists.
type Adapter struct {
	client        goredis.UniversalClient
	namespace     string
	maxLogEntries int
	ownsClient    bool
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(config Config) (*Adapter, error) {
	if strings.TrimSpace(config.Address) == "" {
		return nil, ErrAddressRequired
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	adapter := NewAdapterFromClient(client, config.Namespace, config.MaxLogEntries)
	adapter.ownsClient = true
	return adapter, nil
}

// NewAdapterFromClient wraps an existing client. The caller keeps ownership
// of client; Close does not close it.
func NewAdapterFromClient(client goredis.UniversalClient, namespace string, maxLogEntries int) *Adapter {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if maxLogEntries <= 0 {
		maxLogEntries = defaultMaxLogEntries
	}

	return &Adapter{
		client:        client,
		namespace:     namespace,
		maxLogEntries: maxLogEntries,
	}
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) Close() error {
	if a == nil || !a.ownsClient {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) credentialKey(subject string) string {
	return a.namespace + ":credential:" + subject
}

func (a *Adapter) credentialIDKey(id string) string {
	return a.namespace + ":credential-id:" + id
}

func (a *Adapter) logKey(subject string) string {
	return a.namespace + ":credential-log:" + subject
}

func (a *Adapter) PutCredential(ctx context.Context, record storage.PasswordCredential) error {
	if strings.TrimSpace(record.Subject) == "" {
		return ErrSubjectRequired
	}
	if record.DateAdded.IsZero() {
		record.DateAdded = time.Now().UTC()
	}

	credentialKey := a.credentialKey(record.Subject)
	idKey := a.credentialIDKey(record.ID)

	return a.watch(ctx, func(tx *goredis.Tx) error {
		owner, err := tx.Get(ctx, idKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if err == nil && owner != record.Subject {
			return storage.ErrConflict
		}

		previousID, err := tx.HGet(ctx, credentialKey, "id").Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if previousID != "" && previousID != record.ID {
				pipe.Del(ctx, a.credentialIDKey(previousID))
			}
			pipe.Del(ctx, credentialKey)
			pipe.HSet(ctx, credentialKey, encodeCredential(record))
			pipe.Set(ctx, idKey, record.Subject, 0)
			return nil
		})
		return err
	}, credentialKey, idKey)
}

func (a *Adapter) ReplaceCredential(ctx context.Context, expected storage.PasswordCredential, record storage.PasswordCredential) error {
	if strings.TrimSpace(record.Subject) == "" {
		return ErrSubjectRequired
	}
	if record.ID != expected.ID {
		return storage.ErrConflict
	}

	credentialKey := a.credentialKey(record.Subject)

	return a.watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.HMGet(ctx, credentialKey, "id", "secret", "date_added").Result()
		if err != nil {
			return err
		}
		id, _ := current[0].(string)
		secret, _ := current[1].(string)
		if id != expected.ID || secret != expected.Secret {
			return storage.ErrConflict
		}

		if record.DateAdded.IsZero() {
			raw, _ := current[2].(string)
			if dateAdded, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
				record.DateAdded = dateAdded
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, credentialKey)
			pipe.HSet(ctx, credentialKey, encodeCredential(record))
			return nil
		})
		return err
	}, credentialKey)
}

func (a *Adapter) GetCredentialBySubject(ctx context.Context, subject string) (storage.PasswordCredential, error) {
	fields, err := a.client.HGetAll(ctx, a.credentialKey(subject)).Result()
	if err != nil {
		return storage.PasswordCredential{}, err
	}
	if len(fields) == 0 {
		return storage.PasswordCredential{}, storage.ErrNotFound
	}

	record, err := decodeCredential(fields)
	if err != nil {
		return storage.PasswordCredential{}, err
	}
	record.Subject = subject
	return record, nil
}

func (a *Adapter) DeleteCredential(ctx context.Context, id string) error {
	idKey := a.credentialIDKey(id)

	subject, err := a.client.Get(ctx, idKey).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	credentialKey := a.credentialKey(subject)

	return a.watch(ctx, func(tx *goredis.Tx) error {
		currentID, err := tx.HGet(ctx, credentialKey, "id").Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, idKey)
			if currentID == id {
				pipe.Del(ctx, credentialKey)
			}
			return nil
		})
		return err
	}, credentialKey, idKey)
}

type logEntry struct {
	ID           string            `json:"id"`
	CredentialID string            `json:"credential_id"`
	Event        string            `json:"event"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
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

	payload, err := json.Marshal(logEntry{
		ID:           record.ID,
		CredentialID: record.CredentialID,
		Event:        string(record.Event),
		OccurredAt:   record.OccurredAt.UTC(),
		Metadata:     record.Metadata,
	})
	if err != nil {
		return err
	}

	key := a.logKey(record.Subject)
	_, err = a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-a.maxLogEntries), -1)
		return nil
	})
	return err
}

func (a *Adapter) ListCredentialLogsBySubject(ctx context.Context, subject string) ([]storage.CredentialLogRecord, error) {
	raw, err := a.client.LRange(ctx, a.logKey(subject), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]storage.CredentialLogRecord, 0, len(raw))
	for _, item := range raw {
		var entry logEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("redis store: decode credential log: %w", err)
		}
		records = append(records, storage.CredentialLogRecord{
			ID:           entry.ID,
			CredentialID: entry.CredentialID,
			Subject:      subject,
			Event:        storage.CredentialEvent(entry.Event),
			OccurredAt:   entry.OccurredAt,
			Metadata:     storage.CloneMetadata(entry.Metadata),
		})
	}
	return records, nil
}

func (a *Adapter) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = a.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func encodeCredential(record storage.PasswordCredential) map[string]any {
	fields := map[string]any{
		"id":         record.ID,
		"algorithm":  record.Algorithm,
		"cost":       strconv.Itoa(record.Cost),
		"salt":       base64.StdEncoding.EncodeToString(record.Salt),
		"secret":     record.Secret,
		"date_added": record.DateAdded.UTC().Format(time.RFC3339Nano),
	}
	if record.DateModified != nil {
		fields["date_modified"] = record.DateModified.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func decodeCredential(fields map[string]string) (storage.PasswordCredential, error) {
	cost, err := strconv.Atoi(fields["cost"])
	if err != nil {
		return storage.PasswordCredential{}, fmt.Errorf("redis store: decode cost: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(fields["salt"])
	if err != nil {
		return storage.PasswordCredential{}, fmt.Errorf("redis store: decode salt: %w", err)
	}

	dateAdded, err := time.Parse(time.RFC3339Nano, fields["date_added"])
	if err != nil {
		return storage.PasswordCredential{}, fmt.Errorf("redis store: decode date_added: %w", err)
	}

	record := storage.PasswordCredential{
		ID:        fields["id"],
		Algorithm: fields["algorithm"],
		Cost:      cost,
		Salt:      salt,
		Secret:    fields["secret"],
		DateAdded: dateAdded,
	}

	if raw := fields["date_modified"]; raw != "" {
		modified, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return storage.PasswordCredential{}, fmt.Errorf("redis store: decode date_modified: %w", err)
		}
		record.DateModified = &modified
	}

	return record, nil
}
