package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/spindle/internal/delayed"
	"github.com/mattjoyce/spindle/internal/log"
)

// OperationType classifies how the Worker Runtime should respond to an
// executeCommand call, mirroring the distilled spec's operationType tag.
type OperationType string

const (
	OpSync                OperationType = "sync"
	OpSlowLambda          OperationType = "slowLambda"
	OpObservableLambda    OperationType = "observableLambda"
	OpCMBSlowLambda       OperationType = "cmbSlowLambda"
	OpCMBObservableLambda OperationType = "cmbObservableLambda"
	OpRestart             OperationType = "restart"
)

// Command is the inbound executeCommand request body.
type Command struct {
	ForWhom    string `json:"forWhom"`
	Name       string `json:"name"`
	PluginName string `json:"pluginName"`
	Args       []any  `json:"args"`
	Options    struct {
		Email string `json:"email"`
	} `json:"options"`
}

// Result is the classified outcome of a dispatched command.
type Result struct {
	OperationType OperationType `json:"operationType,omitempty"`
	Result        any           `json:"result"`
}

// BadCommandError reports a structurally invalid Command, naming the field
// that failed validation.
type BadCommandError struct {
	Field string
}

func (e *BadCommandError) Error() string {
	return fmt.Sprintf("bad command: %s is required", e.Field)
}

var (
	// ErrNoPlugin is raised when pluginName does not resolve in the registry.
	ErrNoPlugin = fmt.Errorf("dispatch: plugin not found")
	// ErrNoAllow is raised when the target plugin has no Allow predicate.
	ErrNoAllow = fmt.Errorf("dispatch: plugin has no allow predicate")
	// ErrUnauthorized is raised when allow(...) strictly returns false.
	ErrUnauthorized = fmt.Errorf("dispatch: unauthorized")
	// ErrNoMethod is raised when the named operation is not callable on the plugin.
	ErrNoMethod = fmt.Errorf("dispatch: method not found")
)

// Plugin is the narrow surface the Command Dispatcher needs from a plugin
// instance. internal/plugin's registeredPlugin type satisfies this without
// dispatch ever importing internal/plugin, keeping the dependency
// one-directional (plugin -> dispatch).
type Plugin interface {
	// HasAllow reports whether the plugin was registered with an
	// authorization predicate at all. A plugin construction path that
	// skips AllowFactory leaves this false, yielding ErrNoAllow.
	HasAllow() bool
	Allow(forWhom, email, name string, args ...any) bool
	HasMethod(name string) bool
	Invoke(ctx context.Context, name string, args []any) (any, error)
}

// Registry resolves a plugin by name.
type Registry interface {
	Get(name string) (Plugin, bool)
}

// RestartChecker reports whether the owning loader is mid-restart.
type RestartChecker interface {
	IsRestarting() bool
}

// ResponseClassifier tells the dispatcher how to classify a non-nil,
// non-ordinary return value from a plugin method. A full
// internal/delayed.Response satisfies this structurally, but fakes in tests
// only need these two methods.
type ResponseClassifier interface {
	CallID() string
	Kind() delayed.Kind
}

// Dispatcher implements the validate -> authorize -> invoke -> classify
// pipeline described for executeCommand. All invocations serialize through
// a single mutex, matching the worker's single-threaded-cooperative
// execution guarantee (concurrent DelayedResponse background work is
// unordered and unguarded by this lock, by design).
type Dispatcher struct {
	mu       sync.Mutex
	registry Registry
	restart  RestartChecker
	logger   *slog.Logger
}

func New(registry Registry, restart RestartChecker) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		restart:  restart,
		logger:   log.WithComponent("dispatch"),
	}
}

// Execute runs the full dispatch pipeline for cmd and returns its classified
// Result, or an error from the BadCommandError/ErrNoPlugin/ErrNoAllow/
// ErrUnauthorized/ErrNoMethod family (plus whatever the plugin method
// itself returned). Callers (the Worker Runtime's HTTP handler) translate
// a non-nil error into the 500 envelope.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (Result, error) {
	if d.restart != nil && d.restart.IsRestarting() {
		return Result{OperationType: OpRestart}, nil
	}

	if err := validate(cmd); err != nil {
		return Result{}, err
	}

	plug, ok := d.registry.Get(cmd.PluginName)
	if !ok {
		return Result{}, ErrNoPlugin
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !plug.HasAllow() {
		return Result{}, ErrNoAllow
	}
	if !plug.Allow(cmd.ForWhom, cmd.Options.Email, cmd.Name, cmd.Args...) {
		return Result{}, ErrUnauthorized
	}

	if !plug.HasMethod(cmd.Name) {
		return Result{}, ErrNoMethod
	}

	ret, err := plug.Invoke(ctx, cmd.Name, cmd.Args)
	if err != nil {
		return Result{}, err
	}

	return classify(ret), nil
}

func validate(cmd Command) error {
	if cmd.ForWhom == "" {
		return &BadCommandError{Field: "forWhom"}
	}
	if cmd.PluginName == "" {
		return &BadCommandError{Field: "pluginName"}
	}
	if cmd.Name == "" {
		return &BadCommandError{Field: "name"}
	}
	return nil
}

func classify(ret any) Result {
	if ret == nil {
		return Result{OperationType: OpSync, Result: nil}
	}

	if rc, ok := ret.(ResponseClassifier); ok {
		switch rc.Kind() {
		case delayed.KindSlow:
			return Result{OperationType: OpSlowLambda, Result: rc.CallID()}
		case delayed.KindObservable:
			return Result{OperationType: OpObservableLambda, Result: rc.CallID()}
		case delayed.KindCMBSlow:
			return Result{OperationType: OpCMBSlowLambda, Result: rc.CallID()}
		case delayed.KindCMBObservable:
			return Result{OperationType: OpCMBObservableLambda, Result: rc.CallID()}
		}
	}

	return Result{OperationType: OpSync, Result: ret}
}
