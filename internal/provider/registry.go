package provider

import (
	"errors"
	"fmt"
	"log/slog"

	"fundcore/internal/common/money"
)

// ErrNotRegistered is returned when no adapter covers a (provider, source
// type) pair.
var ErrNotRegistered = errors.New("no adapter registered")

type registryKey struct {
	provider   string
	sourceType SourceType
}

// Registry maps (provider name, source type) to one adapter. It is built once
// at startup; Register is not safe for concurrent use with lookups.
type Registry struct {
	adapters map[registryKey]Adapter
	// order preserves registration order for deterministic discovery scans.
	order  []registryKey
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		adapters: make(map[registryKey]Adapter),
		logger:   logger,
	}
}

// Register inserts one entry per declared capability. The last registration
// wins for a duplicate (provider, source type) key.
func (r *Registry) Register(adapter Adapter) {
	for _, cap := range adapter.Capabilities() {
		key := registryKey{provider: adapter.Name(), sourceType: cap.SourceType}
		if _, exists := r.adapters[key]; !exists {
			r.order = append(r.order, key)
		}
		r.adapters[key] = adapter

		r.logger.Info("provider adapter registered",
			"provider", adapter.Name(),
			"source_type", cap.SourceType,
			"currencies", cap.Currencies,
		)
	}
}

// Resolve returns the adapter for a (provider, source type) pair.
func (r *Registry) Resolve(providerName string, sourceType SourceType) (Adapter, error) {
	adapter, ok := r.adapters[registryKey{provider: providerName, sourceType: sourceType}]
	if !ok {
		return nil, fmt.Errorf("%w for provider %q source type %q", ErrNotRegistered, providerName, sourceType)
	}
	return adapter, nil
}

// FindAny returns the first registered adapter offering the source type in
// the given currency. Used for "any available provider" discovery only.
func (r *Registry) FindAny(sourceType SourceType, currency money.Currency) (Adapter, bool) {
	for _, key := range r.order {
		if key.sourceType != sourceType {
			continue
		}
		adapter := r.adapters[key]
		for _, cap := range adapter.Capabilities() {
			if cap.SourceType == sourceType && cap.Supports(currency) {
				return adapter, true
			}
		}
	}
	return nil, false
}

// Summary describes one provider for discovery UIs.
type Summary struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Available    bool         `json:"available"`
	Capabilities []Capability `json:"capabilities"`
}

// ListProviders returns de-duplicated provider summaries. The de-duplication
// key is the (name, display name) pair, not adapter identity.
func (r *Registry) ListProviders() []Summary {
	type summaryKey struct {
		name        string
		displayName string
	}

	seen := make(map[summaryKey]bool)
	var summaries []Summary

	for _, key := range r.order {
		adapter := r.adapters[key]
		sk := summaryKey{name: adapter.Name(), displayName: adapter.DisplayName()}
		if seen[sk] {
			continue
		}
		seen[sk] = true

		summaries = append(summaries, Summary{
			Name:         adapter.Name(),
			DisplayName:  adapter.DisplayName(),
			Available:    adapter.Available(),
			Capabilities: adapter.Capabilities(),
		})
	}

	return summaries
}
