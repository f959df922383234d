package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/porthorian/hashpolicy/pkg/storage"
	"github.com/porthorian/hashpolicy/pkg/storage/testsuite"
)

func TestAdapterCredentialContract(t *testing.T) {
	suite := testsuite.CredentialStoreSuite{Store: NewAdapter()}
	if err := suite.Run(context.Background()); err != nil {
		t.Fatalf("credential store contract: %v", err)
	}
}

func TestAdapterReturnsCopies(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()

	record := storage.PasswordCredential{ID: "cred-1", Subject: "alice", Algorithm: "bcrypt", Cost: 10, Salt: []byte{}, Secret: "secret"}
	if err := adapter.PutCredential(ctx, record); err != nil {
		t.Fatalf("PutCredential error: %v", err)
	}

	got, err := adapter.GetCredentialBySubject(ctx, "alice")
	if err != nil {
		t.Fatalf("GetCredentialBySubject error: %v", err)
	}
	got.Secret = "tampered"

	again, err := adapter.GetCredentialBySubject(ctx, "alice")
	if err != nil {
		t.Fatalf("GetCredentialBySubject error: %v", err)
	}
	if again.Secret != "secret" {
		t.Fatalf("stored secret changed to %q", again.Secret)
	}
	if again.DateAdded.IsZero() {
		t.Fatal("expected DateAdded to be set")
	}
}

func TestAdapterRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()

	if err := adapter.PutCredential(ctx, storage.PasswordCredential{ID: "cred-1"}); !errors.Is(err, ErrSubjectRequired) {
		t.Fatalf("PutCredential without subject error = %v, want ErrSubjectRequired", err)
	}

	if err := adapter.PutCredential(ctx, storage.PasswordCredential{ID: "cred-1", Subject: "alice"}); err != nil {
		t.Fatalf("PutCredential error: %v", err)
	}
	if err := adapter.PutCredential(ctx, storage.PasswordCredential{ID: "cred-1", Subject: "bob"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("PutCredential with reused id error = %v, want ErrConflict", err)
	}
}

func TestAdapterCredentialLogs(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()
	now := time.Now().UTC()

	events := []storage.CredentialLogRecord{
		{CredentialID: "cred-1", Subject: "alice", Event: storage.CredentialEventVerified, OccurredAt: now.Add(time.Second)},
		{CredentialID: "cred-1", Subject: "alice", Event: storage.CredentialEventCreated, OccurredAt: now},
		{CredentialID: "cred-2", Subject: "bob", Event: storage.CredentialEventCreated, OccurredAt: now},
	}
	for _, event := range events {
		if err := adapter.PutCredentialLog(ctx, event); err != nil {
			t.Fatalf("PutCredentialLog error: %v", err)
		}
	}

	records, err := adapter.ListCredentialLogsBySubject(ctx, "alice")
	if err != nil {
		t.Fatalf("ListCredentialLogsBySubject error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Event != storage.CredentialEventCreated || records[1].Event != storage.CredentialEventVerified {
		t.Fatalf("unexpected order: %s, %s", records[0].Event, records[1].Event)
	}
	if records[0].ID == "" {
		t.Fatal("expected log record id to be assigned")
	}
}
