package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/spindle/internal/delayed"
)

// Instance is the opaque object a plugin factory produces. It exposes
// arbitrary named operations through Invoke rather than Go reflection,
// matching the distilled spec's "opaque object exposing arbitrary named
// operations" contract while staying purely static at compile time.
type Instance interface {
	// HasMethod reports whether name is callable via Invoke.
	HasMethod(name string) bool
	// Invoke calls the named operation and returns its result. The
	// returned value is classified by the Command Dispatcher (see
	// internal/dispatch).
	Invoke(ctx context.Context, name string, args []any) (any, error)
}

// PublicMethodsProvider is implemented by instances that can enumerate
// their externally-callable operations for the /getPublicMethods endpoint.
type PublicMethodsProvider interface {
	PublicMethods() []string
}

// Shutdowner is implemented by instances with teardown work to do when the
// worker restarts or exits.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// AllowFunc is a plugin's authorization predicate. A strict false return
// denies the call; any other value (including an error-free true) permits
// it, matching the distilled spec's "any other value permits" wording.
type AllowFunc func(forWhom, email, operation string, args ...any) bool

// FactoryFunc constructs a fresh Instance. Factories may perform async
// setup (network calls, file reads) before returning. deps carries the
// collaborators an instance needs to produce a delayed.Response (the
// cleanup registry, the outbound webhook client, and the environment-
// sourced delayed.Config) so a plugin method can call delayed.NewSlow et
// al. without reaching into globals.
type FactoryFunc func(ctx context.Context, deps delayed.Deps) (Instance, error)

// AllowFactoryFunc constructs the AllowFunc attached to instances produced
// by the corresponding FactoryFunc.
type AllowFactoryFunc func() AllowFunc

// Declaration is a compiled-in plugin's registration: a name, its declared
// dependencies (used only when no on-disk manifest supplies them), and the
// factories that produce instances and their authorization predicate.
type Declaration struct {
	Name         string
	Dependencies []string
	Factory      FactoryFunc
	AllowFactory AllowFactoryFunc
}

// FactoryTable is the compiled-in registry of plugin declarations a worker
// binary was built with. Plugin packages call RegisterFactory from their
// own init() function, mirroring the teacher's manifest-driven discovery
// but resolving instantiation through a static table instead of a
// filesystem entrypoint.
type FactoryTable struct {
	mu    sync.Mutex
	decls map[string]Declaration
}

// NewFactoryTable returns an empty FactoryTable.
func NewFactoryTable() *FactoryTable {
	return &FactoryTable{decls: make(map[string]Declaration)}
}

var (
	defaultTableOnce sync.Once
	defaultTable     *FactoryTable
)

// DefaultFactoryTable returns the process-wide table plugin packages
// register themselves into from init().
func DefaultFactoryTable() *FactoryTable {
	defaultTableOnce.Do(func() { defaultTable = NewFactoryTable() })
	return defaultTable
}

// RegisterFactory adds decl to the table. It panics on a duplicate name
// because compiled-in registration collisions are a build-time programming
// error, not a runtime condition callers can recover from.
func (t *FactoryTable) RegisterFactory(decl Declaration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.decls[decl.Name]; exists {
		panic(fmt.Sprintf("plugin: factory %q already registered", decl.Name))
	}
	t.decls[decl.Name] = decl
}

// Lookup returns the declaration registered under name.
func (t *FactoryTable) Lookup(name string) (Declaration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	decl, ok := t.decls[name]
	return decl, ok
}

// Names returns every registered declaration name, sorted for deterministic
// iteration in tests and logs.
func (t *FactoryTable) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.decls))
	for name := range t.decls {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
