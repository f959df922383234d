package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestBcryptHashAndVerify(t *testing.T) {
	hasher := NewBcrypt()

	encoded, err := hasher.Hash("hunter2", hasher.MinCost())
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(encoded, "$2a$04$") {
		t.Fatalf("unexpected bcrypt prefix: %s", encoded)
	}

	ok, err := hasher.Verify("hunter2", encoded)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}

	ok, err = hasher.Verify("hunter3", encoded)
	if err != nil {
		t.Fatalf("Verify wrong password error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestBcryptVerifiesMinorVersionY(t *testing.T) {
	hasher := NewBcrypt()

	encoded, err := hasher.Hash("correct horse", hasher.MinCost())
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	legacy := "$2y$" + strings.TrimPrefix(encoded, "$2a$")

	ok, err := hasher.Verify("correct horse", legacy)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected $2y$ secret to verify")
	}
}

func TestBcryptBounds(t *testing.T) {
	hasher := NewBcrypt()
	if hasher.MinCost() != 4 || hasher.MaxCost() != 31 {
		t.Fatalf("unexpected bounds [%d, %d]", hasher.MinCost(), hasher.MaxCost())
	}

	if _, err := hasher.Hash("hunter2", 3); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Hash(cost=3) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := hasher.Hash("hunter2", 32); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Hash(cost=32) error = %v, want ErrInvalidConfig", err)
	}
}

func TestBcryptVerifyMalformedHash(t *testing.T) {
	hasher := NewBcrypt()

	ok, err := hasher.Verify("hunter2", "not-a-bcrypt-hash")
	if !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("Verify error = %v, want ErrInvalidHash", err)
	}
	if ok {
		t.Fatal("expected malformed hash verification to fail")
	}
}

func TestBcryptHashTooLongPassword(t *testing.T) {
	hasher := NewBcrypt()

	if _, err := hasher.Hash(strings.Repeat("a", 73), hasher.MinCost()); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Hash error = %v, want ErrPasswordTooLong", err)
	}
}
