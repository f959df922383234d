package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/porthorian/hashpolicy/pkg/storage"
	"github.com/porthorian/hashpolicy/pkg/storage/testsuite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, maxLogEntries int) (*Adapter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewAdapterFromClient(client, "test", maxLogEntries), mr
}

func TestAdapterCredentialContract(t *testing.T) {
	adapter, _ := newTestAdapter(t, 0)

	suite := testsuite.CredentialStoreSuite{Store: adapter}
	require.NoError(t, suite.Run(context.Background()))
}

func TestAdapterKeysAreNamespaced(t *testing.T) {
	adapter, mr := newTestAdapter(t, 0)
	ctx := context.Background()

	require.NoError(t, adapter.PutCredential(ctx, storage.PasswordCredential{
		ID:        "cred-1",
		Subject:   "alice",
		Algorithm: "bcrypt",
		Cost:      12,
		Salt:      []byte{},
		Secret:    "$2a$12$secret",
	}))

	assert.True(t, mr.Exists("test:credential:alice"))
	assert.True(t, mr.Exists("test:credential-id:cred-1"))
	assert.Equal(t, "$2a$12$secret", mr.HGet("test:credential:alice", "secret"))
	assert.Equal(t, "12", mr.HGet("test:credential:alice", "cost"))
}

func TestAdapterReplaceDropsPreviousIDIndex(t *testing.T) {
	adapter, mr := newTestAdapter(t, 0)
	ctx := context.Background()

	require.NoError(t, adapter.PutCredential(ctx, storage.PasswordCredential{ID: "old", Subject: "alice", Algorithm: "bcrypt", Cost: 10, Secret: "a"}))
	require.NoError(t, adapter.PutCredential(ctx, storage.PasswordCredential{ID: "new", Subject: "alice", Algorithm: "bcrypt", Cost: 12, Secret: "b"}))

	assert.False(t, mr.Exists("test:credential-id:old"))
	assert.True(t, mr.Exists("test:credential-id:new"))

	// Deleting the replaced id must not remove the current credential.
	require.NoError(t, adapter.DeleteCredential(ctx, "old"))
	got, err := adapter.GetCredentialBySubject(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func TestAdapterRejectsReusedID(t *testing.T) {
	adapter, _ := newTestAdapter(t, 0)
	ctx := context.Background()

	require.NoError(t, adapter.PutCredential(ctx, storage.PasswordCredential{ID: "cred-1", Subject: "alice", Secret: "a"}))
	err := adapter.PutCredential(ctx, storage.PasswordCredential{ID: "cred-1", Subject: "bob", Secret: "b"})
	require.ErrorIs(t, err, storage.ErrConflict)

	err = adapter.PutCredential(ctx, storage.PasswordCredential{ID: "cred-2"})
	require.ErrorIs(t, err, ErrSubjectRequired)
}

func TestAdapterCredentialLogsAreCapped(t *testing.T) {
	adapter, _ := newTestAdapter(t, 2)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, event := range []storage.CredentialEvent{
		storage.CredentialEventCreated,
		storage.CredentialEventVerified,
		storage.CredentialEventRehashed,
	} {
		require.NoError(t, adapter.PutCredentialLog(ctx, storage.CredentialLogRecord{
			CredentialID: "cred-1",
			Subject:      "alice",
			Event:        event,
			OccurredAt:   start.Add(time.Duration(i) * time.Second),
			Metadata:     map[string]string{"algorithm": "bcrypt"},
		}))
	}

	records, err := adapter.ListCredentialLogsBySubject(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, storage.CredentialEventVerified, records[0].Event)
	assert.Equal(t, storage.CredentialEventRehashed, records[1].Event)
	assert.Equal(t, "alice", records[1].Subject)
	assert.Equal(t, "bcrypt", records[1].Metadata["algorithm"])
	assert.True(t, records[1].OccurredAt.Equal(start.Add(2*time.Second)))
	assert.NotEmpty(t, records[0].ID)
}

func TestNewAdapterRequiresAddress(t *testing.T) {
	_, err := NewAdapter(Config{})
	require.ErrorIs(t, err, ErrAddressRequired)
}
