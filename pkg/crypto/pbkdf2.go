package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Scheme       = "pbkdf2"
	pbkdf2HashFunction = "sha256"

	pbkdf2MinIterations = 1000
	pbkdf2MaxIterations = 10_000_000
)

type PBKDF2Options struct {
	SaltBytes int
	KeyBytes  int
}

// PBKDF2 is PBKDF2-HMAC-SHA256 where the cost is the iteration count.
type PBKDF2 struct {
	options PBKDF2Options
}

var _ Primitive = (*PBKDF2)(nil)

func DefaultPBKDF2Options() PBKDF2Options {
	return PBKDF2Options{
		SaltBytes: 16,
		KeyBytes:  32,
	}
}

func NewPBKDF2(options PBKDF2Options) *PBKDF2 {
	defaults := DefaultPBKDF2Options()

	if options.SaltBytes <= 0 {
		options.SaltBytes = defaults.SaltBytes
	}
	if options.KeyBytes <= 0 {
		options.KeyBytes = defaults.KeyBytes
	}

	return &PBKDF2{
		options: options,
	}
}

func (h *PBKDF2) Algorithm() string {
	return AlgorithmPBKDF2SHA256
}

func (h *PBKDF2) MinCost() int {
	return pbkdf2MinIterations
}

func (h *PBKDF2) MaxCost() int {
	return pbkdf2MaxIterations
}

func (h *PBKDF2) Hash(password string, cost int) (string, error) {
	if h == nil {
		return "", ErrInvalidConfig
	}
	if err := checkCost(h, cost); err != nil {
		return "", err
	}

	salt := make([]byte, h.options.SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	derived := pbkdf2.Key([]byte(password), salt, cost, h.options.KeyBytes, sha256.New)

	return fmt.Sprintf(
		"%s$%s$%d$%s$%s",
		pbkdf2Scheme,
		pbkdf2HashFunction,
		cost,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived),
	), nil
}

func (h *PBKDF2) Verify(password string, encodedHash string) (bool, error) {
	if h == nil {
		return false, ErrInvalidConfig
	}

	parsed, err := parsePBKDF2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := pbkdf2.Key([]byte(password), parsed.salt, parsed.iterations, len(parsed.derived), sha256.New)
	return subtle.ConstantTimeCompare(candidate, parsed.derived) == 1, nil
}

type pbkdf2Hash struct {
	iterations int
	salt       []byte
	derived    []byte
}

func parsePBKDF2Hash(encodedHash string) (pbkdf2Hash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return pbkdf2Hash{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidHash, len(parts))
	}
	if parts[0] != pbkdf2Scheme || parts[1] != pbkdf2HashFunction {
		return pbkdf2Hash{}, fmt.Errorf("%w: unsupported scheme %s$%s", ErrInvalidHash, parts[0], parts[1])
	}

	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 || iterations > pbkdf2MaxIterations {
		return pbkdf2Hash{}, fmt.Errorf("%w: invalid iteration count", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return pbkdf2Hash{}, fmt.Errorf("%w: invalid salt", ErrInvalidHash)
	}

	derived, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(derived) == 0 {
		return pbkdf2Hash{}, fmt.Errorf("%w: invalid derived key", ErrInvalidHash)
	}

	return pbkdf2Hash{
		iterations: iterations,
		salt:       salt,
		derived:    derived,
	}, nil
}
