package hashprovider

import (
	"errors"
	"sort"
)

// Registry maps provider ids to providers. It is filled at startup and only
// read afterwards.
type Registry struct {
	providers map[string]HashProvider
}

var (
	ErrNilProvider = errors.New("hashprovider: provider is nil")
	ErrEmptyID     = errors.New("hashprovider: provider id is empty")
	ErrDuplicateID = errors.New("hashprovider: provider already exists")
)

func NewRegistry(providers ...HashProvider) (*Registry, error) {
	r := &Registry{
		providers: map[string]HashProvider{},
	}

	for _, provider := range providers {
		if err := r.Register(provider); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) Register(provider HashProvider) error {
	if provider == nil {
		return ErrNilProvider
	}

	id := provider.ID()
	if id == "" {
		return ErrEmptyID
	}

	if _, exists := r.providers[id]; exists {
		return ErrDuplicateID
	}

	r.providers[id] = provider
	return nil
}

func (r *Registry) Provider(id string) (HashProvider, bool) {
	if r == nil {
		return nil, false
	}
	provider, ok := r.providers[id]
	return provider, ok
}

func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
