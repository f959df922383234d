package hashpolicy

import (
	"fmt"
	"os"
	"strings"

	ocrypto "github.com/porthorian/hashpolicy/pkg/crypto"
	"github.com/porthorian/hashpolicy/pkg/hashprovider"
	"github.com/porthorian/hashpolicy/pkg/storage"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath  = "HASHPOLICY_CONFIG"
	EnvDatabaseURL = "HASHPOLICY_DATABASE_URL"
)

// Provider defaults used when a file config lists no providers.
const (
	DefaultBcryptCost       = 12
	DefaultPBKDF2Iterations = 600000
	DefaultArgon2Time       = 3
)

// FileConfig is the on-disk form of a client configuration.
type FileConfig struct {
	DefaultPolicy storage.PasswordPolicy            `yaml:"default_policy"`
	Policies      map[string]storage.PasswordPolicy `yaml:"policies"`
	Providers     []ProviderConfig                  `yaml:"providers"`
	Runtime       RuntimeConfig                     `yaml:"runtime"`
	HTTP          HTTPConfig                        `yaml:"http"`
}

// ProviderConfig binds a provider id to a primitive. Algorithm defaults to
// the id.
type ProviderConfig struct {
	hashprovider.Config `yaml:",inline"`
	Algorithm           string `yaml:"algorithm"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

// LoadFileConfig reads a YAML config. Environment references in the file are
// expanded, and HASHPOLICY_DATABASE_URL overrides the postgres DSN.
func LoadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("hashpolicy config: read %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var config FileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FileConfig{}, fmt.Errorf("hashpolicy config: parse %s: %w", path, err)
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); dsn != "" {
		config.Runtime.Storage.Postgres.DSN = dsn
	}

	if err := config.Validate(); err != nil {
		return FileConfig{}, err
	}
	return config, nil
}

func (f FileConfig) Validate() error {
	seen := make(map[string]struct{}, len(f.Providers))
	for i, provider := range f.Providers {
		id := strings.TrimSpace(provider.ProviderID)
		if id == "" {
			return fmt.Errorf("hashpolicy config: providers[%d].id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("hashpolicy config: duplicate provider id %q", id)
		}
		seen[id] = struct{}{}
	}

	if len(f.Providers) == 0 {
		for _, provider := range DefaultProviderConfigs() {
			seen[provider.ProviderID] = struct{}{}
		}
	}

	if algorithm := f.DefaultPolicy.Algorithm; algorithm != "" {
		if _, ok := seen[algorithm]; !ok {
			return fmt.Errorf("hashpolicy config: default_policy.algorithm %q has no provider", algorithm)
		}
	}
	for realm, policy := range f.Policies {
		if policy.Algorithm == "" {
			continue
		}
		if _, ok := seen[policy.Algorithm]; !ok {
			return fmt.Errorf("hashpolicy config: policies[%s].algorithm %q has no provider", realm, policy.Algorithm)
		}
	}
	return nil
}

// Config builds a client config from the file. Logger and metrics are left
// for the caller to set.
func (f FileConfig) Config() (Config, error) {
	providerConfigs := f.Providers
	if len(providerConfigs) == 0 {
		providerConfigs = DefaultProviderConfigs()
	}

	providers, err := BuildProviders(providerConfigs...)
	if err != nil {
		return Config{}, err
	}

	defaultPolicy := f.DefaultPolicy
	if defaultPolicy.Algorithm == "" {
		defaultPolicy.Algorithm = providers[0].ID()
	}

	return Config{
		Policies:      storage.NewStaticPolicySource(defaultPolicy, f.Policies),
		Providers:     providers,
		DefaultPolicy: defaultPolicy,
		Runtime:       f.Runtime,
	}, nil
}

func DefaultProviderConfigs() []ProviderConfig {
	return []ProviderConfig{
		{Config: hashprovider.Config{ProviderID: ocrypto.AlgorithmBcrypt, DefaultCost: DefaultBcryptCost}},
		{Config: hashprovider.Config{ProviderID: ocrypto.AlgorithmPBKDF2SHA256, DefaultCost: DefaultPBKDF2Iterations}},
		{Config: hashprovider.Config{ProviderID: ocrypto.AlgorithmArgon2id, DefaultCost: DefaultArgon2Time}},
	}
}

// DefaultProviders returns bcrypt, pbkdf2-sha256 and argon2id providers at
// their default costs, in that order.
func DefaultProviders() []hashprovider.HashProvider {
	providers, err := BuildProviders(DefaultProviderConfigs()...)
	if err != nil {
		panic(err)
	}
	return providers
}

func BuildProviders(configs ...ProviderConfig) ([]hashprovider.HashProvider, error) {
	providers := make([]hashprovider.HashProvider, 0, len(configs))
	for _, config := range configs {
		algorithm := config.Algorithm
		if algorithm == "" {
			algorithm = config.ProviderID
		}

		primitive, err := ocrypto.NewPrimitive(algorithm)
		if err != nil {
			return nil, fmt.Errorf("hashpolicy config: provider %q: %w", config.ProviderID, err)
		}

		provider, err := hashprovider.New(config.Config, primitive)
		if err != nil {
			return nil, fmt.Errorf("hashpolicy config: provider %q: %w", config.ProviderID, err)
		}
		providers = append(providers, provider)
	}
	return providers, nil
}
