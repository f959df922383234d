// Package hashpolicy stores password credentials under a per-realm hashing
// policy and upgrades them to the current policy on successful login.
package hashpolicy

import (
	"context"

	"github.com/go-logr/logr"
	oerrors "github.com/porthorian/hashpolicy/pkg/errors"
	"github.com/porthorian/hashpolicy/pkg/hashprovider"
	"github.com/porthorian/hashpolicy/pkg/metrics"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

type Config struct {
	CredentialStore storage.CredentialStore
	LogStore        storage.CredentialLogStore
	Policies        storage.PolicySource
	Providers       []hashprovider.HashProvider
	DefaultPolicy   storage.PasswordPolicy
	Logger          logr.Logger
	Metrics         *metrics.Metrics
	Runtime         RuntimeConfig
}

type Client struct {
	service       *credentialService
	logger        logr.Logger
	closeResource func() error
}

func New(config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	service, err := newCredentialService(resolvedConfig)
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	return &Client{
		service:       service,
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

// SetPassword hashes input.Password under the realm policy and replaces the
// subject's credential.
func (c *Client) SetPassword(ctx context.Context, input SetPasswordInput) (Result, error) {
	if c == nil || c.service == nil {
		return Result{}, oerrors.ErrMissingCredentialStore
	}
	return c.service.SetPassword(ctx, input)
}

// Authenticate verifies input.Password against the stored credential. A
// credential that no longer satisfies the realm policy is re-hashed after a
// successful match; a failed re-hash never fails the authentication.
func (c *Client) Authenticate(ctx context.Context, input PasswordInput) (Result, error) {
	if c == nil || c.service == nil {
		return Result{}, oerrors.ErrMissingCredentialStore
	}
	return c.service.Authenticate(ctx, input)
}

func (c *Client) CheckPolicy(ctx context.Context, subject string, realm string) (bool, error) {
	if c == nil || c.service == nil {
		return false, oerrors.ErrMissingCredentialStore
	}
	return c.service.CheckPolicy(ctx, subject, realm)
}

// Providers lists the registered provider ids in sorted order.
func (c *Client) Providers() []string {
	if c == nil || c.service == nil {
		return nil
	}
	return c.service.registry.IDs()
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.service = nil
	return nil
}
