package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/portagehq/portage/internal/errdefs"
)

// Bundle carries what the auth handler granted for one request: opaque
// backend credentials and mount settings. Bundles live for a single request
// and are never logged or persisted.
type Bundle struct {
	Credentials map[string]string
	Settings    map[string]any
}

// Credential returns a credential value, or "".
func (b Bundle) Credential(key string) string {
	return b.Credentials[key]
}

// Setting returns a string-typed setting, or "". Settings arrive as decoded
// JSON, so string coercion is the common case adapters need.
func (b Bundle) Setting(key string) string {
	if v, ok := b.Settings[key].(string); ok {
		return v
	}
	return ""
}

// Factory constructs a per-request adapter from a grant bundle.
type Factory func(ctx context.Context, bundle Bundle) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs an adapter factory under its provider name. Leaf adapter
// packages call this from init; registering the same name twice is a
// programming error and panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("provider: Register called twice for " + name)
	}
	registry[name] = factory
}

// New constructs a provider adapter by name. Unknown names fail with
// InvalidArgument so the HTTP layer answers 400 rather than 500.
func New(ctx context.Context, name string, bundle Bundle) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errdefs.InvalidArgument("unknown provider %q", name)
	}
	return factory(ctx, bundle)
}

// Names lists the registered provider kinds, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
