// Package hashprovider turns raw passwords into persisted credentials,
// verifies them, and reconciles a policy cost against stored credentials.
package hashprovider

import (
	"errors"
	"fmt"

	ocrypto "github.com/porthorian/hashpolicy/pkg/crypto"
	oerrors "github.com/porthorian/hashpolicy/pkg/errors"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

var (
	ErrEmptyProviderID = errors.New("hashprovider: provider id is required")
	ErrNilPrimitive    = errors.New("hashprovider: primitive is required")
)

// HashProvider is the capability a host selects by algorithm id.
type HashProvider interface {
	ID() string
	NormalizeCost(requested int) int
	CreateCredential(rawPassword string, requestedCost int) (storage.PasswordCredential, error)
	Verify(rawPassword string, credential storage.PasswordCredential) (bool, error)
	CheckPolicyCompliance(policyCost int, credential storage.PasswordCredential) bool
}

// Config is fixed for the provider's lifetime. DefaultCost is trusted and
// is not checked against the primitive's bounds.
type Config struct {
	ProviderID  string `yaml:"id" json:"id"`
	DefaultCost int    `yaml:"default_cost" json:"default_cost"`
}

type Provider struct {
	config    Config
	primitive ocrypto.Primitive
}

var _ HashProvider = (*Provider)(nil)

func New(config Config, primitive ocrypto.Primitive) (*Provider, error) {
	if config.ProviderID == "" {
		return nil, ErrEmptyProviderID
	}
	if primitive == nil {
		return nil, ErrNilPrimitive
	}

	return &Provider{
		config:    config,
		primitive: primitive,
	}, nil
}

func (p *Provider) ID() string {
	return p.config.ProviderID
}

func (p *Provider) DefaultCost() int {
	return p.config.DefaultCost
}

// NormalizeCost returns requested when the primitive accepts it and the
// configured default otherwise.
func (p *Provider) NormalizeCost(requested int) int {
	if requested < p.primitive.MinCost() || requested > p.primitive.MaxCost() {
		return p.config.DefaultCost
	}
	return requested
}

func (p *Provider) CreateCredential(rawPassword string, requestedCost int) (storage.PasswordCredential, error) {
	cost := p.NormalizeCost(requestedCost)

	secret, err := p.primitive.Hash(rawPassword, cost)
	if err != nil {
		return storage.PasswordCredential{}, oerrors.Wrap(
			oerrors.CodePrimitiveFailure,
			fmt.Sprintf("%s: failed to hash password", p.config.ProviderID),
			err,
		)
	}

	// The salt is embedded in secret.
	return storage.PasswordCredential{
		Algorithm: p.config.ProviderID,
		Cost:      cost,
		Salt:      []byte{},
		Secret:    secret,
	}, nil
}

// Verify hands the whole secret to the primitive. A secret the primitive
// cannot parse is a malformed credential, never a failed verification.
func (p *Provider) Verify(rawPassword string, credential storage.PasswordCredential) (bool, error) {
	ok, err := p.primitive.Verify(rawPassword, credential.Secret)
	if err != nil {
		code := oerrors.CodePrimitiveFailure
		if errors.Is(err, ocrypto.ErrInvalidHash) {
			code = oerrors.CodeMalformedCredential
		}
		return false, oerrors.Wrap(code, fmt.Sprintf("%s: failed to verify credential", p.config.ProviderID), err)
	}
	return ok, nil
}

func (p *Provider) CheckPolicyCompliance(policyCost int, credential storage.PasswordCredential) bool {
	return credential.Cost == p.NormalizeCost(policyCost) &&
		credential.Algorithm == p.config.ProviderID
}
