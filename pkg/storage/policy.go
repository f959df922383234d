package storage

import (
	"context"
	"strings"
)

// PasswordPolicy is the hashing policy a realm wants applied to new and
// upgraded credentials. HashIterations is the requested cost; zero or any
// value the provider cannot accept means "use the provider default".
type PasswordPolicy struct {
	Algorithm      string `yaml:"algorithm" json:"algorithm"`
	HashIterations int    `yaml:"hash_iterations" json:"hash_iterations"`
}

type PolicySource interface {
	Policy(ctx context.Context, realm string) (PasswordPolicy, bool)
}

// StaticPolicySource serves a fixed per-realm policy map with a fallback for
// realms that are not listed.
type StaticPolicySource struct {
	fallback PasswordPolicy
	policies map[string]PasswordPolicy
}

var _ PolicySource = (*StaticPolicySource)(nil)

func NewStaticPolicySource(fallback PasswordPolicy, policies map[string]PasswordPolicy) *StaticPolicySource {
	cloned := make(map[string]PasswordPolicy, len(policies))
	for realm, policy := range policies {
		cloned[strings.TrimSpace(realm)] = policy
	}
	return &StaticPolicySource{
		fallback: fallback,
		policies: cloned,
	}
}

// Policy returns the realm's policy, the fallback when the realm is unknown,
// and false only when neither names an algorithm.
func (s *StaticPolicySource) Policy(ctx context.Context, realm string) (PasswordPolicy, bool) {
	if s == nil {
		return PasswordPolicy{}, false
	}

	if policy, ok := s.policies[strings.TrimSpace(realm)]; ok && policy.Algorithm != "" {
		return policy, true
	}
	if s.fallback.Algorithm == "" {
		return PasswordPolicy{}, false
	}
	return s.fallback, true
}
