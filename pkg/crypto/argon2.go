package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2MinTime = 1
	argon2MaxTime = 10

	argon2MinMemoryKB   uint32 = 8 * 1024
	argon2MaxMemoryKB   uint32 = 4 * 1024 * 1024
	argon2MinSaltLength uint32 = 16
	argon2MinKeyLength  uint32 = 16
)

type Argon2Options struct {
	Memory      uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2id is argon2id in PHC encoding where the cost is the time parameter.
// Memory and parallelism are fixed per instance.
type Argon2id struct {
	options Argon2Options
}

var _ Primitive = (*Argon2id)(nil)

func DefaultArgon2Options() Argon2Options {
	return Argon2Options{
		Memory:      64 * 1024,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func NewArgon2id(options Argon2Options) *Argon2id {
	defaults := DefaultArgon2Options()

	if options.Memory < argon2MinMemoryKB || options.Memory > argon2MaxMemoryKB {
		options.Memory = defaults.Memory
	}
	if options.Parallelism == 0 {
		options.Parallelism = defaults.Parallelism
	}
	if options.SaltLength < argon2MinSaltLength {
		options.SaltLength = defaults.SaltLength
	}
	if options.KeyLength < argon2MinKeyLength {
		options.KeyLength = defaults.KeyLength
	}

	return &Argon2id{options: options}
}

func (a *Argon2id) Algorithm() string {
	return AlgorithmArgon2id
}

func (a *Argon2id) MinCost() int {
	return argon2MinTime
}

func (a *Argon2id) MaxCost() int {
	return argon2MaxTime
}

func (a *Argon2id) Hash(password string, cost int) (string, error) {
	if err := checkCost(a, cost); err != nil {
		return "", err
	}

	salt := make([]byte, a.options.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		uint32(cost),
		a.options.Memory,
		a.options.Parallelism,
		a.options.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id,
		argon2.Version,
		a.options.Memory,
		cost,
		a.options.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func (a *Argon2id) Verify(password string, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.hash)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encodedHash string) (parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return parsedPHC{}, fmt.Errorf("%w: invalid PHC format", ErrInvalidHash)
	}
	if parts[1] != AlgorithmArgon2id {
		return parsedPHC{}, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return parsedPHC{}, fmt.Errorf("%w: invalid argon2 version", ErrInvalidHash)
	}
	if version != argon2.Version {
		return parsedPHC{}, fmt.Errorf("%w: unsupported argon2 version %d", ErrInvalidHash, version)
	}

	var parsed parsedPHC
	var memorySet, timeSet, parallelismSet bool
	for _, pair := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return parsedPHC{}, fmt.Errorf("%w: invalid parameter entry", ErrInvalidHash)
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(argon2MinMemoryKB) || v > uint64(argon2MaxMemoryKB) {
				return parsedPHC{}, fmt.Errorf("%w: invalid memory parameter", ErrInvalidHash)
			}
			parsed.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < argon2MinTime || v > argon2MaxTime {
				return parsedPHC{}, fmt.Errorf("%w: invalid time parameter", ErrInvalidHash)
			}
			parsed.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v == 0 {
				return parsedPHC{}, fmt.Errorf("%w: invalid parallelism parameter", ErrInvalidHash)
			}
			parsed.parallelism = uint8(v)
			parallelismSet = true
		default:
			return parsedPHC{}, fmt.Errorf("%w: unsupported parameter %q", ErrInvalidHash, key)
		}
	}
	if !memorySet || !timeSet || !parallelismSet {
		return parsedPHC{}, fmt.Errorf("%w: missing parameters", ErrInvalidHash)
	}

	parsed.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(parsed.salt) < int(argon2MinSaltLength) {
		return parsedPHC{}, fmt.Errorf("%w: invalid salt", ErrInvalidHash)
	}

	parsed.hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(parsed.hash) == 0 {
		return parsedPHC{}, fmt.Errorf("%w: invalid hash", ErrInvalidHash)
	}

	return parsed, nil
}
