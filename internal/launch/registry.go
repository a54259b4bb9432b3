package launch

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// AppFactory builds the HTTP handler of an in-process application.
type AppFactory func(logger zerolog.Logger) http.Handler

// Registry maps entrypoint references ("module:attr") to applications
// that can be served in-process. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]AppFactory
}

// NewRegistry returns a registry holding the built-in applications.
func NewRegistry() *Registry {
	r := &Registry{apps: make(map[string]AppFactory)}
	r.mustRegister(HealthEntrypoint, NewHealthApp)
	return r
}

// Register adds an application under ref. The reference must parse as
// an entrypoint and must not be registered already.
func (r *Registry) Register(ref string, factory AppFactory) error {
	if factory == nil {
		return fmt.Errorf("application %q has no factory", ref)
	}
	ep, err := model.ParseEntrypoint(ref)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apps[ep.String()]; exists {
		return fmt.Errorf("application %q is already registered", ref)
	}
	r.apps[ep.String()] = factory
	return nil
}

func (r *Registry) mustRegister(ref string, factory AppFactory) {
	if err := r.Register(ref, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered for ep. Returns a
// model.CLIError with ExitEntrypointNotFound when nothing is registered.
func (r *Registry) Lookup(ep model.Entrypoint) (AppFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.apps[ep.String()]
	if !ok {
		return nil, model.NewCLIError(model.ExitEntrypointNotFound,
			fmt.Sprintf("application %q is not registered for in-process serving", ep.String()))
	}
	return factory, nil
}

// Names returns the registered references, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
