package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt wraps golang.org/x/crypto/bcrypt. It verifies $2a$, $2b$ and $2y$
// secrets and always writes $2a$.
type Bcrypt struct{}

var _ Primitive = (*Bcrypt)(nil)

func NewBcrypt() *Bcrypt {
	return &Bcrypt{}
}

func (b *Bcrypt) Algorithm() string {
	return AlgorithmBcrypt
}

func (b *Bcrypt) MinCost() int {
	return bcrypt.MinCost
}

func (b *Bcrypt) MaxCost() int {
	return bcrypt.MaxCost
}

func (b *Bcrypt) Hash(password string, cost int) (string, error) {
	if err := checkCost(b, cost); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrPasswordTooLong, err)
		}
		return "", err
	}
	return string(hashed), nil
}

func (b *Bcrypt) Verify(password string, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
}
