package storage

import (
	"context"
	"testing"
)

func TestStaticPolicySource(t *testing.T) {
	fallback := PasswordPolicy{Algorithm: "bcrypt", HashIterations: 12}
	source := NewStaticPolicySource(fallback, map[string]PasswordPolicy{
		" legacy ": {Algorithm: "pbkdf2-sha256", HashIterations: 27500},
		"broken":   {HashIterations: 10},
	})

	policy, ok := source.Policy(context.Background(), "legacy")
	if !ok || policy.Algorithm != "pbkdf2-sha256" || policy.HashIterations != 27500 {
		t.Fatalf("legacy policy = %+v, %v", policy, ok)
	}

	policy, ok = source.Policy(context.Background(), "unknown")
	if !ok || policy != fallback {
		t.Fatalf("unknown realm policy = %+v, %v, want fallback", policy, ok)
	}

	policy, ok = source.Policy(context.Background(), "broken")
	if !ok || policy != fallback {
		t.Fatalf("realm without algorithm = %+v, %v, want fallback", policy, ok)
	}
}

func TestStaticPolicySourceWithoutFallback(t *testing.T) {
	source := NewStaticPolicySource(PasswordPolicy{}, nil)
	if _, ok := source.Policy(context.Background(), "any"); ok {
		t.Fatal("expected no policy without fallback")
	}

	var nilSource *StaticPolicySource
	if _, ok := nilSource.Policy(context.Background(), "any"); ok {
		t.Fatal("expected nil source to report no policy")
	}
}

func TestStaticPolicySourceClonesInput(t *testing.T) {
	input := map[string]PasswordPolicy{"realm": {Algorithm: "bcrypt", HashIterations: 10}}
	source := NewStaticPolicySource(PasswordPolicy{}, input)
	input["realm"] = PasswordPolicy{Algorithm: "argon2id", HashIterations: 3}

	policy, _ := source.Policy(context.Background(), "realm")
	if policy.Algorithm != "bcrypt" {
		t.Fatalf("policy algorithm = %q, want bcrypt", policy.Algorithm)
	}
}

func TestCloneCredential(t *testing.T) {
	record := PasswordCredential{ID: "id", Salt: []byte{1, 2}}
	cloned := CloneCredential(record)
	cloned.Salt[0] = 9
	if record.Salt[0] != 1 {
		t.Fatal("expected clone to copy salt")
	}
}
