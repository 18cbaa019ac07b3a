// Package delayed implements the four flavors of asynchronous plugin result
// ("delayed response") and their shared lifecycle: creation, activity-reset
// expiry, webhook delivery of progress/completion, and guaranteed single-shot
// completion with cleanup.
//
// The source system's flavors are produced by dynamically mixing lifecycle
// methods onto a plain object. This package expresses the same four flavors
// as small wrapper types that each embed one *lifecycle, matching the
// "composition over mixin" redesign called for in SPEC_FULL.md §9.
package delayed

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/spindle/internal/cleanup"
	"github.com/mattjoyce/spindle/internal/log"
	"github.com/mattjoyce/spindle/internal/webhookclient"
)

// Kind identifies which of the four delayed-response flavors a Response is,
// and drives the Command Dispatcher's operationType classification.
type Kind string

const (
	KindSlow              Kind = "slowLambda"
	KindObservable        Kind = "observableLambda"
	KindCMBSlow           Kind = "cmbSlowLambda"
	KindCMBObservable     Kind = "cmbObservableLambda"
	defaultExpiry              = 5 * time.Minute
	cmbPollInterval             = 1 * time.Second
)

// ErrConfig is returned by NewSlow, NewObservable, NewCMBSlow and
// NewCMBObservable when the internal webhook URL is not configured.
var ErrConfig = fmt.Errorf("delayed: INTERNAL_WEBHOOK_URL is required")

// ExpiredError is delivered to error listeners when a response's inactivity
// timer fires before it completes.
type ExpiredError struct {
	CallID  string
	Timeout time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("delayed response %s expired after %s of inactivity", e.CallID, e.Timeout)
}

func (e *ExpiredError) Code() string { return "EXPIRED" }

// WebhookIOError wraps a transport failure encountered while delivering a
// progress or completion PUT.
type WebhookIOError struct {
	CallID string
	Cause  error
}

func (e *WebhookIOError) Error() string {
	return fmt.Sprintf("delayed response %s: webhook delivery failed: %v", e.CallID, e.Cause)
}

func (e *WebhookIOError) Unwrap() error { return e.Cause }

func (e *WebhookIOError) Code() string { return "WEBHOOK_IO" }

// Config carries the environment-sourced settings that govern a Response's
// webhook delivery and expiry.
type Config struct {
	InternalWebhookURL string
	ExternalWebhookURL string // only consulted by CMB flavors
	ServerlessID        string
	ExpiryTimeout       time.Duration // zero means defaultExpiry
}

func (c Config) expiry() time.Duration {
	if c.ExpiryTimeout <= 0 {
		return defaultExpiry
	}
	return c.ExpiryTimeout
}

// Response is the interface a plugin method returns to indicate its work
// completes asynchronously, delivered later via webhook.
type Response interface {
	CallID() string
	Kind() Kind
	Progress(ctx context.Context, data any) error
	End(ctx context.Context, result any) error
	OnError(cb func(error))
	AddCleanupCallback(cb func())
	AddResourceCleanupCallback(cb func())
	// Done is closed once the response reaches its terminal state.
	Done() <-chan struct{}
}

// lifecycle holds the state and behavior shared by all four flavors. Each
// flavor wrapper embeds a *lifecycle rather than inheriting from a common
// base, matching Go's composition idiom.
type lifecycle struct {
	callID string
	kind   Kind
	cfg    Config

	registry *cleanup.Registry
	client   *webhookclient.Client
	logger   *slog.Logger

	mu        sync.Mutex
	completed bool
	timer     *time.Timer
	done      chan struct{}

	errListeners      []func(error)
	resourceCallbacks []func()

	cmbCancel context.CancelFunc
}

func newLifecycle(ctx context.Context, kind Kind, cfg Config, registry *cleanup.Registry, client *webhookclient.Client) (*lifecycle, error) {
	if cfg.InternalWebhookURL == "" {
		return nil, ErrConfig
	}

	callID, err := newCallID()
	if err != nil {
		return nil, fmt.Errorf("delayed: generate call id: %w", err)
	}

	lc := &lifecycle{
		callID:   callID,
		kind:     kind,
		cfg:      cfg,
		registry: registry,
		client:   client,
		logger:   log.WithCallID(callID),
		done:     make(chan struct{}),
	}

	if cfg.ServerlessID != "" {
		go func() {
			url := cfg.InternalWebhookURL + "/registerMapping"
			body := map[string]any{"callId": callID, "serverlessId": cfg.ServerlessID}
			if err := client.PUT(context.Background(), url, body, cfg.ServerlessID); err != nil {
				lc.logger.Warn("registerMapping delivery failed", "error", err)
			}
		}()
	}

	lc.timer = time.AfterFunc(cfg.expiry(), lc.onExpire)
	registry.Register(callID, lc.onExpire)

	return lc, nil
}

func newCallID() (string, error) {
	buf := make([]byte, 32) // 256 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (lc *lifecycle) CallID() string { return lc.callID }
func (lc *lifecycle) Kind() Kind     { return lc.kind }
func (lc *lifecycle) Done() <-chan struct{} { return lc.done }

func (lc *lifecycle) OnError(cb func(error)) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.completed {
		return
	}
	lc.errListeners = append(lc.errListeners, cb)
}

func (lc *lifecycle) AddCleanupCallback(cb func()) {
	lc.registry.Register(lc.callID, cb)
}

func (lc *lifecycle) AddResourceCleanupCallback(cb func()) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.completed {
		return
	}
	lc.resourceCallbacks = append(lc.resourceCallbacks, cb)
}

// touch resets the inactivity timer; called by progress and end.
func (lc *lifecycle) touch() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.completed {
		return
	}
	lc.timer.Reset(lc.cfg.expiry())
}

func (lc *lifecycle) progress(ctx context.Context, data any) error {
	lc.mu.Lock()
	if lc.completed {
		lc.mu.Unlock()
		return nil
	}
	lc.mu.Unlock()
	lc.touch()

	url := lc.cfg.InternalWebhookURL + "/progress"
	body := map[string]any{"callId": lc.callID, "status": "pending", "progress": data}
	if err := lc.client.PUT(ctx, url, body, lc.cfg.ServerlessID); err != nil {
		lc.fail(&WebhookIOError{CallID: lc.callID, Cause: err})
		return err
	}
	return nil
}

func (lc *lifecycle) end(ctx context.Context, result any, includeResult bool) error {
	if !lc.markCompleted() {
		return nil
	}
	lc.stopExpiry()

	url := lc.cfg.InternalWebhookURL + "/result"
	body := map[string]any{"callId": lc.callID, "status": "completed"}
	if includeResult {
		body["result"] = result
	}

	if err := lc.client.PUT(ctx, url, body, lc.cfg.ServerlessID); err != nil {
		lc.notifyError(&WebhookIOError{CallID: lc.callID, Cause: err})
		lc.runResourceCleanup()
		lc.registry.Remove(lc.callID)
		close(lc.done)
		return err
	}

	lc.runResourceCleanup()
	lc.registry.Remove(lc.callID)
	close(lc.done)
	return nil
}

// onExpire fires when the inactivity timer elapses.
func (lc *lifecycle) onExpire() {
	if !lc.markCompleted() {
		return
	}
	err := &ExpiredError{CallID: lc.callID, Timeout: lc.cfg.expiry()}
	lc.notifyError(err)
	lc.runResourceCleanup()
	// Execute runs the callbacks added with AddCleanupCallback and drops the
	// entry; the onExpire callback registered at creation is a no-op here.
	lc.registry.Execute(lc.callID)
	close(lc.done)
}

// fail transitions to completed with a terminal error, used when a
// progress delivery fails: the expiry timer is stopped, error listeners and
// resource-cleanup callbacks run once, and the call leaves the registry.
func (lc *lifecycle) fail(err error) {
	if !lc.markCompleted() {
		return
	}
	lc.stopExpiry()
	lc.notifyError(err)
	lc.runResourceCleanup()
	lc.registry.Remove(lc.callID)
	close(lc.done)
}

func (lc *lifecycle) markCompleted() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.completed {
		return false
	}
	lc.completed = true
	return true
}

func (lc *lifecycle) stopExpiry() {
	lc.timer.Stop()
	if lc.cmbCancel != nil {
		lc.cmbCancel()
	}
}

func (lc *lifecycle) notifyError(err error) {
	lc.mu.Lock()
	listeners := append([]func(error){}, lc.errListeners...)
	lc.mu.Unlock()
	for _, cb := range listeners {
		cb(err)
	}
}

func (lc *lifecycle) runResourceCleanup() {
	lc.mu.Lock()
	cbs := append([]func(){}, lc.resourceCallbacks...)
	lc.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
