package biz

import (
	"context"

	"RouteLane/internal/data"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderSpec is the resolved static configuration for one upstream
// provider within a configuration snapshot. The router only ever reads it.
type ProviderSpec struct {
	Key     string
	Name    string
	BaseURL string
	APIKey  string
	Weight  int32
	Enabled bool
}

// Snapshot is an immutable provider configuration version. A reload builds a
// new Snapshot and publishes it wholesale; existing snapshots are never
// mutated in place, so readers never block on reload.
type Snapshot struct {
	providers []ProviderSpec
	byKey     map[string]ProviderSpec
}

// NewSnapshot builds a Snapshot from the given specs, keeping only enabled
// providers. A zero weight falls back to the default weight of 1; negative
// weights are clamped to zero (the provider stays listed but draws no
// traffic).
func NewSnapshot(specs []ProviderSpec) *Snapshot {
	s := &Snapshot{
		providers: make([]ProviderSpec, 0, len(specs)),
		byKey:     make(map[string]ProviderSpec, len(specs)),
	}
	for _, spec := range specs {
		if !spec.Enabled || spec.Key == "" {
			continue
		}
		if spec.Weight == 0 {
			spec.Weight = 1
		}
		if spec.Weight < 0 {
			spec.Weight = 0
		}
		if _, dup := s.byKey[spec.Key]; dup {
			continue
		}
		s.providers = append(s.providers, spec)
		s.byKey[spec.Key] = spec
	}
	return s
}

// Providers returns the enabled providers in configuration order.
func (s *Snapshot) Providers() []ProviderSpec {
	if s == nil {
		return nil
	}
	return s.providers
}

// Lookup returns the spec for the given provider key.
func (s *Snapshot) Lookup(key string) (ProviderSpec, bool) {
	if s == nil {
		return ProviderSpec{}, false
	}
	spec, ok := s.byKey[key]
	return spec, ok
}

// Keys returns the enabled provider keys in configuration order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		keys = append(keys, p.Key)
	}
	return keys
}

// ProviderRepo abstracts the provider store (implemented in the data layer).
type ProviderRepo interface {
	// ListEnabled returns all enabled providers with decrypted credentials.
	ListEnabled(ctx context.Context) ([]data.ProviderRecord, error)

	// InvalidateCache drops any cached provider list so the next ListEnabled
	// reads the authoritative store.
	InvalidateCache(ctx context.Context)
}

// ProviderUsecase keeps the router's configuration snapshot in sync with the
// provider store. Sync is invoked at startup, by the periodic cron job, and
// by the admin force-sync endpoint.
type ProviderUsecase struct {
	repo   ProviderRepo
	router *RouterUseCase
	logger *log.Helper
}

// NewProviderUsecase creates a new provider sync use case.
func NewProviderUsecase(repo ProviderRepo, router *RouterUseCase, logger log.Logger) *ProviderUsecase {
	return &ProviderUsecase{
		repo:   repo,
		router: router,
		logger: log.NewHelper(logger),
	}
}

// Sync rebuilds the configuration snapshot from the provider store and
// applies it to the router. Providers absent from the new snapshot have
// their health records discarded.
func (uc *ProviderUsecase) Sync(ctx context.Context) error {
	records, err := uc.repo.ListEnabled(ctx)
	if err != nil {
		uc.logger.Errorw("failed to list enabled providers", "error", err)
		return err
	}

	specs := make([]ProviderSpec, 0, len(records))
	for _, rec := range records {
		specs = append(specs, ProviderSpec{
			Key:     rec.Key,
			Name:    rec.Name,
			BaseURL: rec.BaseURL,
			APIKey:  rec.APIKey,
			Weight:  rec.Weight,
			Enabled: rec.Enabled,
		})
	}

	snap := NewSnapshot(specs)
	uc.router.ApplySnapshot(snap)

	uc.logger.Infow("provider snapshot applied",
		"providers", len(snap.Providers()))
	return nil
}

// ForceSync invalidates the provider cache and rebuilds the snapshot from
// the authoritative store. Used by the admin endpoint.
func (uc *ProviderUsecase) ForceSync(ctx context.Context) error {
	uc.repo.InvalidateCache(ctx)
	return uc.Sync(ctx)
}
