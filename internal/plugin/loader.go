package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/spindle/internal/delayed"
	"github.com/mattjoyce/spindle/internal/dispatch"
	"github.com/mattjoyce/spindle/internal/log"
	"github.com/mattjoyce/spindle/internal/topo"
)

// InitError wraps any failure encountered while discovering, ordering, or
// instantiating plugins during Init, including a propagated *topo.CycleError.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string { return fmt.Sprintf("plugin: init failed: %v", e.Cause) }
func (e *InitError) Unwrap() error { return e.Cause }

// DuplicateError reports a second registration attempt for an already-loaded
// plugin name.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("plugin: duplicate plugin registration: %q", e.Name)
}

// Loader discovers plugin manifests under a storage root, topologically
// orders them by declared dependency, and instantiates each from a
// compiled-in FactoryTable. It also owns the Command Dispatcher that serves
// executeCommand requests against the plugins it loaded.
type Loader struct {
	storageRoot string
	table       *FactoryTable
	deps        delayed.Deps
	logger      *slog.Logger
	dispatcher  *dispatch.Dispatcher

	mu          sync.Mutex
	plugins     map[string]*registeredPlugin
	order       []string
	initialized bool

	restarting atomic.Bool
}

// NewLoader returns a Loader that discovers manifests under storageRoot and
// resolves factories from table. A nil table uses DefaultFactoryTable. deps
// is passed to every plugin factory unchanged, so a plugin instance can
// construct delayed.Response values against the worker's real webhook
// client, cleanup registry, and environment-sourced configuration.
func NewLoader(storageRoot string, table *FactoryTable, deps delayed.Deps) *Loader {
	if table == nil {
		table = DefaultFactoryTable()
	}
	l := &Loader{
		storageRoot: storageRoot,
		table:       table,
		deps:        deps,
		logger:      log.WithComponent("plugin"),
		plugins:     make(map[string]*registeredPlugin),
	}
	l.dispatcher = dispatch.New(l, l)
	return l
}

// Get implements dispatch.Registry.
func (l *Loader) Get(name string) (dispatch.Plugin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plugins[name]
	if !ok {
		return nil, false
	}
	return p, true
}

// IsRestarting implements dispatch.RestartChecker.
func (l *Loader) IsRestarting() bool { return l.restarting.Load() }

// IsInitialized reports whether Init has completed at least once
// successfully.
func (l *Loader) IsInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// Init discovers every plugin manifest under the storage root, resolves a
// topological load order from their declared dependencies, and instantiates
// each plugin's compiled-in factory in that order. A dependency cycle
// propagates as a fatal *InitError wrapping *topo.CycleError; a resolved
// plugin name with no registered factory is logged and skipped rather than
// failing the whole load, since manifests may describe plugins intended for
// a different worker build.
func (l *Loader) Init(ctx context.Context) error {
	manifests, err := discover(l.storageRoot, l.logger)
	if err != nil {
		return &InitError{Cause: err}
	}

	nodes := make([]string, 0, len(manifests))
	edges := make(map[string][]string, len(manifests))
	for _, m := range manifests {
		if _, dup := edges[m.Manifest.Name]; dup {
			return &InitError{Cause: &DuplicateError{Name: m.Manifest.Name}}
		}
		nodes = append(nodes, m.Manifest.Name)
		deps := m.Manifest.Dependencies
		if len(deps) == 0 {
			if decl, ok := l.table.Lookup(m.Manifest.Name); ok {
				deps = decl.Dependencies
			}
		}
		edges[m.Manifest.Name] = deps
	}

	order, err := topo.Sort(nodes, edges, l.logger)
	if err != nil {
		return &InitError{Cause: err}
	}

	newPlugins := make(map[string]*registeredPlugin, len(order))
	newOrder := make([]string, 0, len(order))

	for _, name := range order {
		decl, ok := l.table.Lookup(name)
		if !ok {
			l.logger.Warn("plugin manifest has no compiled factory, skipping", "name", name)
			continue
		}
		if _, exists := newPlugins[name]; exists {
			return &InitError{Cause: &DuplicateError{Name: name}}
		}

		instance, err := decl.Factory(ctx, l.deps)
		if err != nil {
			return &InitError{Cause: fmt.Errorf("plugin %q: factory: %w", name, err)}
		}

		var allow AllowFunc
		if decl.AllowFactory != nil {
			allow = decl.AllowFactory()
		}

		newPlugins[name] = &registeredPlugin{name: name, instance: instance, allow: allow}
		newOrder = append(newOrder, name)
	}

	l.mu.Lock()
	l.plugins = newPlugins
	l.order = newOrder
	l.initialized = true
	l.mu.Unlock()

	l.logger.Info("plugin loader initialized", "count", len(newOrder), "order", newOrder)
	return nil
}

// RegisterPlugin instantiates the compiled-in factory registered under name
// and adds it to the loader outside of a full Init scan, used for
// programmatic registration in tests and single-plugin bootstraps. path is
// retained for logging parity with manifest-driven registration; it plays
// no role in factory resolution since instantiation is always compiled-in.
func (l *Loader) RegisterPlugin(name, path string) error {
	l.mu.Lock()
	if _, exists := l.plugins[name]; exists {
		l.mu.Unlock()
		return &DuplicateError{Name: name}
	}
	l.mu.Unlock()

	decl, ok := l.table.Lookup(name)
	if !ok {
		return fmt.Errorf("plugin: no compiled factory registered for %q", name)
	}

	instance, err := decl.Factory(context.Background(), l.deps)
	if err != nil {
		return fmt.Errorf("plugin %q: factory: %w", name, err)
	}

	var allow AllowFunc
	if decl.AllowFactory != nil {
		allow = decl.AllowFactory()
	}

	l.mu.Lock()
	l.plugins[name] = &registeredPlugin{name: name, instance: instance, allow: allow}
	l.order = append(l.order, name)
	l.initialized = true
	l.mu.Unlock()

	l.logger.Info("plugin registered", "name", name, "path", path)
	return nil
}

// ExecuteCommand runs cmd through the Command Dispatcher against this
// loader's plugins.
func (l *Loader) ExecuteCommand(ctx context.Context, cmd dispatch.Command) (dispatch.Result, error) {
	return l.dispatcher.Execute(ctx, cmd)
}

// PublicMethods returns the externally-callable operations of the named
// plugin, or false if the plugin is unknown or does not advertise any.
func (l *Loader) PublicMethods(name string) ([]string, bool) {
	l.mu.Lock()
	p, ok := l.plugins[name]
	l.mu.Unlock()
	if !ok {
		return nil, false
	}
	return p.PublicMethods()
}

// Restart tears every loaded plugin down in load order, clears the
// registry, merges env into the process environment if provided, and
// re-runs Init. The restarting flag is set for the full duration so the
// Command Dispatcher short-circuits concurrent executeCommand calls, and is
// always cleared via defer even if re-init fails.
func (l *Loader) Restart(ctx context.Context, env map[string]string) error {
	l.restarting.Store(true)
	defer l.restarting.Store(false)

	l.mu.Lock()
	order := append([]string(nil), l.order...)
	plugins := l.plugins
	l.mu.Unlock()

	for _, name := range order {
		p, ok := plugins[name]
		if !ok {
			continue
		}
		if err := p.Shutdown(ctx); err != nil {
			l.logger.Warn("plugin shutdown failed during restart", "name", name, "error", err)
		}
	}

	l.mu.Lock()
	l.plugins = make(map[string]*registeredPlugin)
	l.order = nil
	l.initialized = false
	l.mu.Unlock()

	for k, v := range env {
		if err := os.Setenv(k, v); err != nil {
			l.logger.Warn("failed to set restart env var", "key", k, "error", err)
		}
	}

	return l.Init(ctx)
}
