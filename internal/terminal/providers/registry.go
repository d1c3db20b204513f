package providers

import (
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

var registry = make(map[string]NewFunc)

// ErrNoProvider is wrapped into the error returned when a tenant's settings
// name a provider nobody registered.
var ErrNoProvider = fmt.Errorf("no terminal provider registered")

// Register adds a provider constructor to the registry. Called from each
// vendor file's init(); a duplicate name is a programming error.
func Register(name string, newFunc NewFunc) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("terminal provider %q registered twice", name))
	}
	registry[name] = newFunc
}

// New resolves a tenant's provider by name and constructs a fresh instance.
// The returned provider runs every outgoing result through the PCI guard.
func New(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	newFunc, exists := registry[settings.Provider]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, settings.Provider)
	}
	p, err := newFunc(logger.With(slog.String("provider", settings.Provider)), settings)
	if err != nil {
		return nil, fmt.Errorf("constructing %s provider: %w", settings.Provider, err)
	}
	return &guarded{inner: p}, nil
}

// Registered reports whether a provider name is known.
func Registered(name string) bool {
	_, ok := registry[name]
	return ok
}
