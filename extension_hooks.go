package esim

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-esim/core"
)

// ProjectorPack groups lifecycle handlers a downstream module wants the
// outbox dispatcher to feed.
type ProjectorPack struct {
	Name       string
	Projectors map[string]core.LifecycleEventHandler
}

type ExtensionHooks struct {
	mu sync.RWMutex

	providers      map[string]ProviderClientFactory
	projectorPacks map[string]ProjectorPack
}

// NewExtensionHooks starts with the built-in provider factories registered.
func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providers:      builtinProviderFactories(),
		projectorPacks: map[string]ProjectorPack{},
	}
}

func (h *ExtensionHooks) RegisterProviderFactory(name string, factory ProviderClientFactory) error {
	if h == nil {
		return fmt.Errorf("esim: extension hooks are nil")
	}
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return fmt.Errorf("esim: provider name is required")
	}
	if factory == nil {
		return fmt.Errorf("esim: provider %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providers[name]; exists {
		return fmt.Errorf("esim: provider %q already registered", name)
	}
	h.providers[name] = factory
	return nil
}

func (h *ExtensionHooks) ProviderClient(
	name string,
	transport core.Transport,
	policy core.RateLimitPolicy,
) (core.ProviderClient, error) {
	if h == nil {
		return nil, fmt.Errorf("esim: extension hooks are nil")
	}
	name = strings.TrimSpace(strings.ToLower(name))

	h.mu.RLock()
	factory, ok := h.providers[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("esim: provider %q is not registered", name)
	}
	return factory(transport, policy)
}

func (h *ExtensionHooks) ProviderNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *ExtensionHooks) RegisterProjectorPack(pack ProjectorPack) error {
	if h == nil {
		return fmt.Errorf("esim: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("esim: projector pack name is required")
	}
	if len(pack.Projectors) == 0 {
		return fmt.Errorf("esim: projector pack %q has no projectors", name)
	}

	normalized := ProjectorPack{
		Name:       name,
		Projectors: make(map[string]core.LifecycleEventHandler, len(pack.Projectors)),
	}
	for key, handler := range pack.Projectors {
		key = strings.TrimSpace(key)
		if key == "" || handler == nil {
			return fmt.Errorf("esim: projector pack %q has an unnamed or nil projector", name)
		}
		normalized.Projectors[key] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.projectorPacks[name]; exists {
		return fmt.Errorf("esim: projector pack %q already registered", name)
	}
	h.projectorPacks[name] = normalized
	return nil
}

// ApplyProjectorPacks registers every projector as "<pack>.<projector>".
func (h *ExtensionHooks) ApplyProjectorPacks(registry core.ProjectorRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("esim: projector registry is required")
	}
	for _, pack := range h.ProjectorPacks() {
		keys := make([]string, 0, len(pack.Projectors))
		for key := range pack.Projectors {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			registry.Register(pack.Name+"."+key, pack.Projectors[key])
		}
	}
	return nil
}

func (h *ExtensionHooks) ProjectorPacks() []ProjectorPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.projectorPacks))
	for name := range h.projectorPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProjectorPack, 0, len(names))
	for _, name := range names {
		pack := h.projectorPacks[name]
		projectors := make(map[string]core.LifecycleEventHandler, len(pack.Projectors))
		for key, handler := range pack.Projectors {
			projectors[key] = handler
		}
		out = append(out, ProjectorPack{Name: pack.Name, Projectors: projectors})
	}
	return out
}
