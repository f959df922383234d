package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

func TestNewAdapterRequiresDB(t *testing.T) {
	if _, err := NewAdapter(nil); !errors.Is(err, ErrNilDB) {
		t.Fatalf("NewAdapter(nil) error = %v, want ErrNilDB", err)
	}
}

func TestUninitializedAdapter(t *testing.T) {
	adapter := &Adapter{db: &sql.DB{}}

	if err := adapter.PutCredential(context.Background(), storage.PasswordCredential{}); !errors.Is(err, ErrAdapterNotInitialized) {
		t.Fatalf("PutCredential error = %v, want ErrAdapterNotInitialized", err)
	}
	if err := adapter.WithTx(context.Background(), nil); !errors.Is(err, errNilTxCallback) {
		t.Fatalf("WithTx(nil) error = %v, want errNilTxCallback", err)
	}
}

func TestTranslateError(t *testing.T) {
	if err := translateError(sql.ErrNoRows); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("translateError(ErrNoRows) = %v, want ErrNotFound", err)
	}

	unique := fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "password_credential_pkey"})
	if err := translateError(unique); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("translateError(unique) = %v, want ErrConflict", err)
	}

	other := &pgconn.PgError{Code: pgerrcode.InvalidSchemaName}
	if err := translateError(other); err != other {
		t.Fatalf("translateError(other) = %v, want passthrough", err)
	}

	if translateError(nil) != nil {
		t.Fatal("translateError(nil) should be nil")
	}
}
