package hashpolicy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	oerrors "github.com/porthorian/hashpolicy/pkg/errors"
	"github.com/porthorian/hashpolicy/pkg/hashprovider"
	"github.com/porthorian/hashpolicy/pkg/metrics"
	"github.com/porthorian/hashpolicy/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// transactor is implemented by stores that can write a credential and its
// event atomically.
type transactor interface {
	WithTx(ctx context.Context, fn func(store storage.Store) error) error
}

type credentialService struct {
	store         storage.CredentialStore
	logs          storage.CredentialLogStore
	policies      storage.PolicySource
	defaultPolicy storage.PasswordPolicy
	registry      *hashprovider.Registry
	logger        logr.Logger
	metrics       *metrics.Metrics
	upgrades      singleflight.Group
	now           func() time.Time
}

func newCredentialService(config Config) (*credentialService, error) {
	if config.CredentialStore == nil {
		return nil, oerrors.ErrMissingCredentialStore
	}
	if len(config.Providers) == 0 {
		return nil, oerrors.ErrMissingProviders
	}

	registry, err := hashprovider.NewRegistry(config.Providers...)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeInvalidConfig, "failed to register hash providers", err)
	}

	defaultPolicy := config.DefaultPolicy
	if defaultPolicy.Algorithm == "" {
		defaultPolicy.Algorithm = config.Providers[0].ID()
	}
	if _, ok := registry.Provider(defaultPolicy.Algorithm); !ok {
		return nil, oerrors.New(oerrors.CodeInvalidConfig, fmt.Sprintf("default policy algorithm %q has no provider", defaultPolicy.Algorithm))
	}

	policies := config.Policies
	if policies == nil {
		policies = storage.NewStaticPolicySource(defaultPolicy, nil)
	}

	return &credentialService{
		store:         config.CredentialStore,
		logs:          config.LogStore,
		policies:      policies,
		defaultPolicy: defaultPolicy,
		registry:      registry,
		logger:        resolveLogger(config.Logger),
		metrics:       config.Metrics,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *credentialService) SetPassword(ctx context.Context, input SetPasswordInput) (Result, error) {
	input = input.Normalize()
	if input.Subject == "" {
		return Result{}, oerrors.New(oerrors.CodeInvalidInput, "subject is required")
	}
	if input.Password == "" {
		return Result{}, oerrors.New(oerrors.CodeInvalidInput, "password is required")
	}

	policy, provider, err := s.resolvePolicy(ctx, input.Realm)
	if err != nil {
		return Result{}, err
	}

	credential, err := s.hash(provider, input.Password, policy.HashIterations, input.Realm)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	credential.ID = uuid.NewString()
	credential.Subject = input.Subject
	credential.DateAdded = now

	err = s.persist(ctx, nil, credential, storage.CredentialEventCreated, map[string]string{
		"algorithm": credential.Algorithm,
		"cost":      strconv.Itoa(credential.Cost),
		"realm":     input.Realm,
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.V(1).Info("stored password credential", "subject", credential.Subject, "algorithm", credential.Algorithm, "cost", credential.Cost)
	return resultFor(credential, false, now), nil
}

func (s *credentialService) Authenticate(ctx context.Context, input PasswordInput) (Result, error) {
	input = input.Normalize()
	if input.Subject == "" {
		return Result{}, oerrors.New(oerrors.CodeInvalidInput, "subject is required")
	}

	credential, err := s.load(ctx, input.Subject)
	if err != nil {
		if oerrors.IsCode(err, oerrors.CodeNotFound) {
			return Result{}, oerrors.Wrap(oerrors.CodeInvalidCredentials, "invalid credentials", err)
		}
		return Result{}, err
	}

	provider, ok := s.registry.Provider(credential.Algorithm)
	if !ok {
		s.recordEvent(ctx, credential, storage.CredentialEventMalformed, map[string]string{"reason": "unknown_algorithm"})
		return Result{}, oerrors.New(oerrors.CodeUnknownAlgorithm, fmt.Sprintf("no provider for algorithm %q", credential.Algorithm))
	}

	start := time.Now()
	matched, err := provider.Verify(input.Password, credential)
	elapsed := time.Since(start)

	if err != nil {
		result := metrics.VerifyResultError
		if oerrors.IsCode(err, oerrors.CodeMalformedCredential) {
			result = metrics.VerifyResultMalformed
			s.recordEvent(ctx, credential, storage.CredentialEventMalformed, map[string]string{"reason": "unparseable_secret"})
		}
		s.metrics.ObserveVerify(provider.ID(), result, elapsed)
		s.logger.Error(err, "failed to verify credential", "subject", credential.Subject, "algorithm", credential.Algorithm)
		return Result{}, err
	}

	if !matched {
		s.metrics.ObserveVerify(provider.ID(), metrics.VerifyResultMismatch, elapsed)
		s.recordEvent(ctx, credential, storage.CredentialEventVerifyFailed, nil)
		return Result{}, oerrors.New(oerrors.CodeInvalidCredentials, "invalid credentials")
	}

	s.metrics.ObserveVerify(provider.ID(), metrics.VerifyResultMatch, elapsed)
	s.recordEvent(ctx, credential, storage.CredentialEventVerified, nil)

	current, rehashed := s.upgrade(ctx, input, credential)
	return resultFor(current, rehashed, s.now()), nil
}

func (s *credentialService) CheckPolicy(ctx context.Context, subject string, realm string) (bool, error) {
	input := PasswordInput{Subject: subject, Realm: realm}.Normalize()
	if input.Subject == "" {
		return false, oerrors.New(oerrors.CodeInvalidInput, "subject is required")
	}

	credential, err := s.load(ctx, input.Subject)
	if err != nil {
		return false, err
	}

	policy, provider, err := s.resolvePolicy(ctx, input.Realm)
	if err != nil {
		return false, err
	}

	compliant := provider.CheckPolicyCompliance(policy.HashIterations, credential)
	s.metrics.RecordPolicyCheck(provider.ID(), compliant)
	return compliant, nil
}

// upgrade re-hashes a verified password when the stored credential does not
// satisfy the realm policy. The credential keeps its id and date added.
// Concurrent upgrades of one subject share a single re-hash.
func (s *credentialService) upgrade(ctx context.Context, input PasswordInput, credential storage.PasswordCredential) (storage.PasswordCredential, bool) {
	policy, provider, err := s.resolvePolicy(ctx, input.Realm)
	if err != nil {
		s.logger.Error(err, "skipping credential upgrade", "subject", credential.Subject, "realm", input.Realm)
		return credential, false
	}

	compliant := provider.CheckPolicyCompliance(policy.HashIterations, credential)
	s.metrics.RecordPolicyCheck(provider.ID(), compliant)
	if compliant {
		return credential, false
	}

	key := credential.Subject + "\x00" + provider.ID()
	value, err, _ := s.upgrades.Do(key, func() (any, error) {
		return s.rehash(ctx, input, credential, policy, provider)
	})
	if err != nil {
		return credential, false
	}
	return value.(storage.PasswordCredential), true
}

func (s *credentialService) rehash(ctx context.Context, input PasswordInput, credential storage.PasswordCredential, policy storage.PasswordPolicy, provider hashprovider.HashProvider) (storage.PasswordCredential, error) {
	replacement, err := s.hash(provider, input.Password, policy.HashIterations, input.Realm)
	if err == nil {
		modified := s.now()
		replacement.ID = credential.ID
		replacement.Subject = credential.Subject
		replacement.DateAdded = credential.DateAdded
		replacement.DateModified = &modified

		err = s.persist(ctx, &credential, replacement, storage.CredentialEventRehashed, map[string]string{
			"from_algorithm": credential.Algorithm,
			"from_cost":      strconv.Itoa(credential.Cost),
			"to_algorithm":   replacement.Algorithm,
			"to_cost":        strconv.Itoa(replacement.Cost),
		})
	}

	s.metrics.RecordRehash(credential.Algorithm, provider.ID(), err)
	if errors.Is(err, storage.ErrConflict) {
		s.logger.V(1).Info("credential changed during upgrade, keeping stored credential", "subject", credential.Subject)
		return storage.PasswordCredential{}, err
	}
	if err != nil {
		s.logger.Error(err, "failed to rehash credential", "subject", credential.Subject, "from", credential.Algorithm, "to", provider.ID())
		return storage.PasswordCredential{}, err
	}

	s.logger.V(1).Info("rehashed credential", "subject", credential.Subject, "from_algorithm", credential.Algorithm, "from_cost", credential.Cost, "to_algorithm", replacement.Algorithm, "to_cost", replacement.Cost)
	return replacement, nil
}

func (s *credentialService) resolvePolicy(ctx context.Context, realm string) (storage.PasswordPolicy, hashprovider.HashProvider, error) {
	policy, ok := s.policies.Policy(ctx, realm)
	if !ok {
		policy = s.defaultPolicy
	}

	provider, ok := s.registry.Provider(policy.Algorithm)
	if !ok {
		return storage.PasswordPolicy{}, nil, oerrors.New(
			oerrors.CodeUnknownAlgorithm,
			fmt.Sprintf("realm %q policy names unknown algorithm %q", realm, policy.Algorithm),
		)
	}
	return policy, provider, nil
}

// hash creates a credential at the policy cost. A non-zero cost the provider
// cannot accept is replaced with its default; that is reported, not refused.
func (s *credentialService) hash(provider hashprovider.HashProvider, password string, cost int, realm string) (storage.PasswordCredential, error) {
	if effective := provider.NormalizeCost(cost); cost != 0 && effective != cost {
		s.logger.Info("policy cost outside provider bounds, using provider default", "realm", realm, "algorithm", provider.ID(), "requested", cost, "effective", effective)
		s.metrics.RecordCostSubstitution(provider.ID())
	}

	start := time.Now()
	credential, err := provider.CreateCredential(password, cost)
	s.metrics.ObserveHash(provider.ID(), time.Since(start))
	return credential, err
}

func (s *credentialService) load(ctx context.Context, subject string) (storage.PasswordCredential, error) {
	credential, err := s.store.GetCredentialBySubject(ctx, subject)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.PasswordCredential{}, oerrors.Wrap(oerrors.CodeNotFound, "credential not found", err)
	}
	if err != nil {
		return storage.PasswordCredential{}, oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to load credential", err)
	}
	return credential, nil
}

// persist writes credential and its event. With a non-nil expected the
// write only replaces that exact stored credential and fails with
// storage.ErrConflict once it has changed. Stores that support transactions
// and also hold the event log get both writes in one transaction.
func (s *credentialService) persist(ctx context.Context, expected *storage.PasswordCredential, credential storage.PasswordCredential, event storage.CredentialEvent, metadata map[string]string) error {
	record := s.newLogRecord(credential, event, metadata)
	write := func(store storage.CredentialStore) error {
		if expected != nil {
			return store.ReplaceCredential(ctx, *expected, credential)
		}
		return store.PutCredential(ctx, credential)
	}

	if tx, ok := s.store.(transactor); ok && s.logs != nil && any(s.logs) == any(s.store) {
		err := tx.WithTx(ctx, func(store storage.Store) error {
			if err := write(store); err != nil {
				return err
			}
			return store.PutCredentialLog(ctx, record)
		})
		if err != nil {
			return storeError(err)
		}
		return nil
	}

	if err := write(s.store); err != nil {
		return storeError(err)
	}
	s.putLog(ctx, record)
	return nil
}

func storeError(err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return oerrors.Wrap(oerrors.CodeConflict, "credential changed concurrently", err)
	}
	return oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to store credential", err)
}

func (s *credentialService) recordEvent(ctx context.Context, credential storage.PasswordCredential, event storage.CredentialEvent, metadata map[string]string) {
	s.putLog(ctx, s.newLogRecord(credential, event, metadata))
}

func (s *credentialService) newLogRecord(credential storage.PasswordCredential, event storage.CredentialEvent, metadata map[string]string) storage.CredentialLogRecord {
	return storage.CredentialLogRecord{
		ID:           uuid.NewString(),
		CredentialID: credential.ID,
		Subject:      credential.Subject,
		Event:        event,
		OccurredAt:   s.now(),
		Metadata:     metadata,
	}
}

// putLog never fails the caller; event logs are best effort.
func (s *credentialService) putLog(ctx context.Context, record storage.CredentialLogRecord) {
	if s.logs == nil {
		return
	}
	if err := s.logs.PutCredentialLog(ctx, record); err != nil {
		s.logger.Error(err, "failed to record credential event", "subject", record.Subject, "event", record.Event)
	}
}

func resultFor(credential storage.PasswordCredential, rehashed bool, at time.Time) Result {
	return Result{
		CredentialID: credential.ID,
		Subject:      credential.Subject,
		Algorithm:    credential.Algorithm,
		Cost:         credential.Cost,
		Rehashed:     rehashed,
		At:           at,
	}
}
