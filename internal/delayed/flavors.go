package delayed

import (
	"context"

	"github.com/mattjoyce/spindle/internal/cleanup"
	"github.com/mattjoyce/spindle/internal/webhookclient"
)

// slowResponse carries a final result payload on End.
type slowResponse struct{ *lifecycle }

func (r *slowResponse) Progress(ctx context.Context, data any) error { return r.progress(ctx, data) }
func (r *slowResponse) End(ctx context.Context, result any) error    { return r.end(ctx, result, true) }

// observableResponse's End carries no payload; only progress ticks matter.
type observableResponse struct{ *lifecycle }

func (r *observableResponse) Progress(ctx context.Context, data any) error {
	return r.progress(ctx, data)
}
func (r *observableResponse) End(ctx context.Context, _ any) error { return r.end(ctx, nil, false) }

// cmbSlowResponse is a slowResponse that additionally polls an external
// webhook until it reports completion.
type cmbSlowResponse struct {
	*lifecycle
	cmb *cmbPoller
}

func (r *cmbSlowResponse) Progress(ctx context.Context, data any) error { return r.progress(ctx, data) }
func (r *cmbSlowResponse) End(ctx context.Context, result any) error    { return r.end(ctx, result, true) }

// OnExternalComplete registers the callback invoked when the external
// webhook reports {"status":"completed", ...}. Polling stops afterward.
func (r *cmbSlowResponse) OnExternalComplete(cb func(data map[string]any)) {
	r.cmb.onComplete(cb)
}

// cmbObservableResponse is an observableResponse with external CMB polling.
type cmbObservableResponse struct {
	*lifecycle
	cmb *cmbPoller
}

func (r *cmbObservableResponse) Progress(ctx context.Context, data any) error {
	return r.progress(ctx, data)
}
func (r *cmbObservableResponse) End(ctx context.Context, _ any) error { return r.end(ctx, nil, false) }

func (r *cmbObservableResponse) OnExternalComplete(cb func(data map[string]any)) {
	r.cmb.onComplete(cb)
}

// NewSlow creates a slow delayed response: its End(result) carries the final
// payload and has no external polling.
func NewSlow(ctx context.Context, deps Deps) (Response, error) {
	lc, err := newLifecycle(ctx, KindSlow, deps.Config, deps.Registry, deps.Client)
	if err != nil {
		return nil, err
	}
	return &slowResponse{lifecycle: lc}, nil
}

// NewObservable creates an observable delayed response: its End() carries no
// result payload and has no external polling.
func NewObservable(ctx context.Context, deps Deps) (Response, error) {
	lc, err := newLifecycle(ctx, KindObservable, deps.Config, deps.Registry, deps.Client)
	if err != nil {
		return nil, err
	}
	return &observableResponse{lifecycle: lc}, nil
}

// NewCMBSlow creates a slow delayed response that additionally polls
// deps.Config.ExternalWebhookURL at 1Hz until it reports completion.
func NewCMBSlow(ctx context.Context, deps Deps) (*cmbSlowResponse, error) {
	lc, err := newLifecycle(ctx, KindCMBSlow, deps.Config, deps.Registry, deps.Client)
	if err != nil {
		return nil, err
	}
	r := &cmbSlowResponse{lifecycle: lc}
	r.cmb = startCMBPoller(lc, deps.Client)
	return r, nil
}

// NewCMBObservable creates an observable delayed response that additionally
// polls deps.Config.ExternalWebhookURL at 1Hz until it reports completion.
func NewCMBObservable(ctx context.Context, deps Deps) (*cmbObservableResponse, error) {
	lc, err := newLifecycle(ctx, KindCMBObservable, deps.Config, deps.Registry, deps.Client)
	if err != nil {
		return nil, err
	}
	r := &cmbObservableResponse{lifecycle: lc}
	r.cmb = startCMBPoller(lc, deps.Client)
	return r, nil
}

// Deps bundles the collaborators every Response constructor needs, so
// callers (the plugin loader's per-command wiring) pass one value instead
// of three.
type Deps struct {
	Config   Config
	Registry *cleanup.Registry
	Client   *webhookclient.Client
}
