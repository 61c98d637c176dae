package llm

import (
	"fmt"
	"sync"
)

// Registry holds the runtime-mutable provider configuration: the ordered
// cloud fallback model list and the offline-provider toggle. Mutations
// are rare admin operations; readers take the snapshot per request, so a
// request started just before a toggle may observe the old value.
type Registry struct {
	mu             sync.RWMutex
	fallbackModels []string
	offlineEnabled bool
}

// NewRegistry creates a registry with the initial fallback list.
func NewRegistry(fallbackModels []string, offlineEnabled bool) *Registry {
	models := make([]string, len(fallbackModels))
	copy(models, fallbackModels)
	return &Registry{fallbackModels: models, offlineEnabled: offlineEnabled}
}

// Models returns a copy of the current fallback model list.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]string, len(r.fallbackModels))
	copy(models, r.fallbackModels)
	return models
}

// SetModels replaces the fallback model list.
func (r *Registry) SetModels(models []string) error {
	if len(models) == 0 {
		return fmt.Errorf("fallback model list must not be empty")
	}
	copied := make([]string, len(models))
	copy(copied, models)

	r.mu.Lock()
	r.fallbackModels = copied
	r.mu.Unlock()
	return nil
}

// OfflineEnabled reports whether the local provider is exclusive.
func (r *Registry) OfflineEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.offlineEnabled
}

// SetOffline toggles the offline-first policy.
func (r *Registry) SetOffline(enabled bool) {
	r.mu.Lock()
	r.offlineEnabled = enabled
	r.mu.Unlock()
}
