package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/mapping"
)

// Manager owns the plugin instances of one configuration snapshot. The
// snapshot is immutable: configuration changes go through Rebuild, which
// swaps the whole set atomically and invalidates cached tokens and compiled
// mappings. Dynamic priority overrides survive rebuilds and take precedence
// over configured priorities.
type Manager struct {
	registry *mapping.Registry

	mu        sync.RWMutex
	snapshot  *snapshot
	overrides map[string]int
}

type snapshot struct {
	providers map[string]config.ProviderConfig
	search    map[string]Search
	auth      map[string]Authentication
	download  map[string]Download
	mappings  *mapping.Cache
}

func emptySnapshot() *snapshot {
	return &snapshot{
		providers: map[string]config.ProviderConfig{},
		search:    map[string]Search{},
		auth:      map[string]Authentication{},
		download:  map[string]Download{},
		mappings:  mapping.NewCache(),
	}
}

// NewManager creates a manager with no providers; call Rebuild to load a
// catalog.
func NewManager(registry *mapping.Registry) *Manager {
	return &Manager{registry: registry, snapshot: emptySnapshot(), overrides: map[string]int{}}
}

// Rebuild replaces the plugin set from the provider catalog. Providers whose
// plugins or mappings cannot be built are skipped and returned keyed by name;
// they never abort the rebuild. Tokens cached by the previous snapshot are
// invalidated.
func (m *Manager) Rebuild(providers map[string]config.ProviderConfig) map[string]error {
	next := emptySnapshot()
	malformed := map[string]error{}

	for name, cfg := range providers {
		auth, err := newAuthPlugin(name, cfg.Auth, cfg.Credentials)
		if err != nil {
			malformed[name] = err
			continue
		}
		mappingOf := compileFunc(next, name, m.registry)
		search, err := newSearchPlugin(name, cfg, auth, m.registry, mappingOf)
		if err != nil {
			malformed[name] = err
			continue
		}
		download, err := newDownloadPlugin(name, cfg, auth, m.registry, mappingOf)
		if err != nil {
			malformed[name] = err
			continue
		}

		next.providers[name] = cfg
		// compile every declared mapping now: malformed tables fail the
		// provider at load time, not at request time
		compileErr := error(nil)
		for productType := range cfg.ProductTypes {
			if _, err := mappingOf(productType); err != nil {
				compileErr = err
				break
			}
		}
		if compileErr != nil {
			malformed[name] = compileErr
			delete(next.providers, name)
			continue
		}

		next.search[name] = search
		next.auth[name] = auth
		next.download[name] = download
	}

	m.mu.Lock()
	previous := m.snapshot
	m.snapshot = next
	m.mu.Unlock()

	for _, auth := range previous.auth {
		auth.Invalidate()
	}
	return malformed
}

// compileFunc returns the mapping accessor of one provider, caching compiled
// tables in the snapshot.
func compileFunc(snap *snapshot, provider string, registry *mapping.Registry) func(string) (*mapping.Compiled, error) {
	return func(productType string) (*mapping.Compiled, error) {
		if compiled, ok := snap.mappings.Get(provider, productType); ok {
			return compiled, nil
		}
		cfg, ok := snap.providers[provider]
		if !ok {
			return nil, fmt.Errorf("compileFunc: unknown provider %s", provider)
		}
		dialect, err := mapping.DialectString(cfg.Search.Dialect)
		if err != nil {
			return nil, fmt.Errorf("compileFunc[%s]: %w", provider, err)
		}
		compiled, err := mapping.Compile(provider, dialect, registry, cfg.MappingTables(productType)...)
		if err != nil {
			return nil, err
		}
		snap.mappings.Put(provider, productType, compiled)
		return compiled, nil
	}
}

func (m *Manager) current() (*snapshot, map[string]int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	overrides := make(map[string]int, len(m.overrides))
	for k, v := range m.overrides {
		overrides[k] = v
	}
	return m.snapshot, overrides
}

// GetSearchPlugins returns the search plugins supporting the product type
// (all of them when empty), ordered by descending effective priority.
func (m *Manager) GetSearchPlugins(productType string) []Search {
	snap, overrides := m.current()

	names := make([]string, 0, len(snap.search))
	for name, plugin := range snap.search {
		if productType != "" && !plugin.SupportsProductType(productType) {
			continue
		}
		names = append(names, name)
	}

	priority := func(name string) int {
		if p, ok := overrides[name]; ok {
			return p
		}
		return snap.search[name].Priority()
	}
	sort.Slice(names, func(i, j int) bool {
		if pi, pj := priority(names[i]), priority(names[j]); pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})

	plugins := make([]Search, len(names))
	for i, name := range names {
		plugins[i] = snap.search[name]
	}
	return plugins
}

// GetAuthPlugin returns the shared authentication plugin of the provider, so
// concurrent operations against one provider reuse one token.
func (m *Manager) GetAuthPlugin(provider string) (Authentication, error) {
	snap, _ := m.current()
	auth, ok := snap.auth[provider]
	if !ok {
		return nil, fmt.Errorf("GetAuthPlugin: unknown provider %s", provider)
	}
	return auth, nil
}

// GetDownloadPlugin returns the download plugin of the product's provider.
func (m *Manager) GetDownloadPlugin(product *common.Product) (Download, error) {
	snap, _ := m.current()
	download, ok := snap.download[product.Provider]
	if !ok {
		return nil, fmt.Errorf("GetDownloadPlugin: unknown provider %s", product.Provider)
	}
	return download, nil
}

// Provider returns the configuration of a loaded provider.
func (m *Manager) Provider(name string) (config.ProviderConfig, bool) {
	snap, _ := m.current()
	cfg, ok := snap.providers[name]
	return cfg, ok
}

// SetPriority overrides the priority of a provider until the next call. The
// override outlives rebuilds, taking precedence over every configured layer.
func (m *Manager) SetPriority(provider string, priority int) error {
	snap, _ := m.current()
	if _, ok := snap.providers[provider]; !ok {
		return fmt.Errorf("SetPriority: unknown provider %s", provider)
	}
	m.mu.Lock()
	m.overrides[provider] = priority
	m.mu.Unlock()
	return nil
}
