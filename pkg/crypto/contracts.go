package crypto

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidHash      = errors.New("password: invalid hash")
	ErrInvalidConfig    = errors.New("password: invalid config")
	ErrPasswordTooLong  = errors.New("password: password too long")
	ErrUnknownAlgorithm = errors.New("password: unknown algorithm")
)

const (
	AlgorithmBcrypt       = "bcrypt"
	AlgorithmPBKDF2SHA256 = "pbkdf2-sha256"
	AlgorithmArgon2id     = "argon2id"
)

// Primitive is a salted, self-describing password hash with a bounded
// integer work factor.
//
// Hash must reject a cost outside [MinCost, MaxCost] with ErrInvalidConfig.
// Verify returns (false, nil) on mismatch and an error wrapping
// ErrInvalidHash when encodedHash cannot be parsed.
type Primitive interface {
	Algorithm() string
	MinCost() int
	MaxCost() int
	Hash(password string, cost int) (string, error)
	Verify(password string, encodedHash string) (bool, error)
}

// NewPrimitive returns the primitive registered under algorithm with its
// default options.
func NewPrimitive(algorithm string) (Primitive, error) {
	switch algorithm {
	case AlgorithmBcrypt:
		return NewBcrypt(), nil
	case AlgorithmPBKDF2SHA256:
		return NewPBKDF2(DefaultPBKDF2Options()), nil
	case AlgorithmArgon2id:
		return NewArgon2id(DefaultArgon2Options()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

func checkCost(p Primitive, cost int) error {
	if cost < p.MinCost() || cost > p.MaxCost() {
		return fmt.Errorf("%w: %s cost %d outside [%d, %d]", ErrInvalidConfig, p.Algorithm(), cost, p.MinCost(), p.MaxCost())
	}
	return nil
}
