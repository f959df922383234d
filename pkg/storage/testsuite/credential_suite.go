package testsuite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

// CredentialStoreSuite checks the CredentialStore contract against a live
// backend. Subjects are randomized so the suite can share a backend with
// other data.
type CredentialStoreSuite struct {
	Store storage.CredentialStore
}

var _ PersistenceSuite = CredentialStoreSuite{}

func (s CredentialStoreSuite) Run(ctx context.Context) error {
	if s.Store == nil {
		return errors.New("testsuite: credential store is nil")
	}

	subject := "suite-" + uuid.NewString()

	if _, err := s.Store.GetCredentialBySubject(ctx, subject); !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get missing credential: got %v, want storage.ErrNotFound", err)
	}

	first := storage.PasswordCredential{
		ID:        uuid.NewString(),
		Subject:   subject,
		Algorithm: "bcrypt",
		Cost:      10,
		Salt:      []byte{},
		Secret:    "$2a$10$first",
		DateAdded: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.Store.PutCredential(ctx, first); err != nil {
		return fmt.Errorf("put credential: %w", err)
	}

	got, err := s.Store.GetCredentialBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}
	if err := compareCredential(got, first); err != nil {
		return fmt.Errorf("get credential: %w", err)
	}

	modified := time.Now().UTC().Truncate(time.Millisecond)
	second := storage.PasswordCredential{
		ID:           uuid.NewString(),
		Subject:      subject,
		Algorithm:    "pbkdf2-sha256",
		Cost:         27500,
		Salt:         []byte{},
		Secret:       "pbkdf2$sha256$27500$c2FsdA$a2V5",
		DateAdded:    modified,
		DateModified: &modified,
	}
	if err := s.Store.PutCredential(ctx, second); err != nil {
		return fmt.Errorf("replace credential: %w", err)
	}

	got, err = s.Store.GetCredentialBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("get replaced credential: %w", err)
	}
	if err := compareCredential(got, second); err != nil {
		return fmt.Errorf("get replaced credential: %w", err)
	}

	upgraded := second
	upgraded.Cost = 600000
	upgraded.Secret = "pbkdf2$sha256$600000$c2FsdA$a2V5"
	if err := s.Store.ReplaceCredential(ctx, first, upgraded); !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("replace stale credential: got %v, want storage.ErrConflict", err)
	}
	got, err = s.Store.GetCredentialBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("get credential after stale replace: %w", err)
	}
	if err := compareCredential(got, second); err != nil {
		return fmt.Errorf("get credential after stale replace: %w", err)
	}

	if err := s.Store.ReplaceCredential(ctx, second, upgraded); err != nil {
		return fmt.Errorf("replace current credential: %w", err)
	}
	got, err = s.Store.GetCredentialBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("get upgraded credential: %w", err)
	}
	if err := compareCredential(got, upgraded); err != nil {
		return fmt.Errorf("get upgraded credential: %w", err)
	}
	if err := s.Store.ReplaceCredential(ctx, second, upgraded); !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("replace already upgraded credential: got %v, want storage.ErrConflict", err)
	}

	if err := s.Store.DeleteCredential(ctx, second.ID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if _, err := s.Store.GetCredentialBySubject(ctx, subject); !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get deleted credential: got %v, want storage.ErrNotFound", err)
	}
	if err := s.Store.ReplaceCredential(ctx, upgraded, upgraded); !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("replace deleted credential: got %v, want storage.ErrConflict", err)
	}

	return nil
}

func compareCredential(got storage.PasswordCredential, want storage.PasswordCredential) error {
	switch {
	case got.ID != want.ID:
		return fmt.Errorf("id = %q, want %q", got.ID, want.ID)
	case got.Subject != want.Subject:
		return fmt.Errorf("subject = %q, want %q", got.Subject, want.Subject)
	case got.Algorithm != want.Algorithm:
		return fmt.Errorf("algorithm = %q, want %q", got.Algorithm, want.Algorithm)
	case got.Cost != want.Cost:
		return fmt.Errorf("cost = %d, want %d", got.Cost, want.Cost)
	case got.Secret != want.Secret:
		return fmt.Errorf("secret = %q, want %q", got.Secret, want.Secret)
	case len(got.Salt) != 0:
		return fmt.Errorf("salt = %x, want empty", got.Salt)
	}
	return nil
}
