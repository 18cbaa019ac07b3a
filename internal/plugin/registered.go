package plugin

import (
	"context"

	"github.com/mattjoyce/spindle/internal/dispatch"
)

// registeredPlugin wraps a constructed Instance with its authorization
// predicate, satisfying dispatch.Plugin without internal/dispatch ever
// importing internal/plugin.
type registeredPlugin struct {
	name     string
	instance Instance
	allow    AllowFunc
}

var _ dispatch.Plugin = (*registeredPlugin)(nil)

func (p *registeredPlugin) HasAllow() bool { return p.allow != nil }

func (p *registeredPlugin) Allow(forWhom, email, name string, args ...any) bool {
	if p.allow == nil {
		return false
	}
	return p.allow(forWhom, email, name, args...)
}

func (p *registeredPlugin) HasMethod(name string) bool {
	return p.instance.HasMethod(name)
}

func (p *registeredPlugin) Invoke(ctx context.Context, name string, args []any) (any, error) {
	return p.instance.Invoke(ctx, name, args)
}

// PublicMethods returns the instance's externally-callable operations, or
// false if it does not implement PublicMethodsProvider.
func (p *registeredPlugin) PublicMethods() ([]string, bool) {
	provider, ok := p.instance.(PublicMethodsProvider)
	if !ok {
		return nil, false
	}
	return provider.PublicMethods(), true
}

// Shutdown tears the instance down if it implements Shutdowner; otherwise
// it is a no-op.
func (p *registeredPlugin) Shutdown(ctx context.Context) error {
	shutdowner, ok := p.instance.(Shutdowner)
	if !ok {
		return nil
	}
	return shutdowner.Shutdown(ctx)
}
