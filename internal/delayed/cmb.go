package delayed

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/spindle/internal/webhookclient"
)

// cmbPoller polls an external webhook URL at 1Hz on behalf of a CMB-flavored
// response, stopping either when the external peer reports completion or
// when the owning response reaches its own terminal state — whichever comes
// first. This closes the source system's Open Question (SPEC_FULL.md §9):
// the polling loop is no longer unconditional.
type cmbPoller struct {
	mu     sync.Mutex
	onDone []func(map[string]any)
	fired  bool
	data   map[string]any
}

func startCMBPoller(lc *lifecycle, client *webhookclient.Client) *cmbPoller {
	p := &cmbPoller{}

	if lc.cfg.ExternalWebhookURL == "" {
		return p
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.mu.Lock()
	lc.cmbCancel = cancel
	lc.mu.Unlock()

	go func() {
		ticker := time.NewTicker(cmbPollInterval)
		defer ticker.Stop()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-lc.done:
				return
			case <-ticker.C:
				status, err := client.GetStatus(ctx, lc.cfg.ExternalWebhookURL)
				if err != nil {
					lc.logger.Debug("cmb poll failed", "error", err)
					continue
				}
				if s, _ := status["status"].(string); s == "completed" {
					p.fire(status)
					return
				}
			}
		}
	}()

	return p
}

// onComplete registers cb to run when the external webhook reports
// completion. If completion already fired, cb runs immediately.
func (p *cmbPoller) onComplete(cb func(data map[string]any)) {
	p.mu.Lock()
	if p.fired {
		data := p.data
		p.mu.Unlock()
		cb(data)
		return
	}
	p.onDone = append(p.onDone, cb)
	p.mu.Unlock()
}

func (p *cmbPoller) fire(data map[string]any) {
	p.mu.Lock()
	if p.fired {
		p.mu.Unlock()
		return
	}
	p.fired = true
	p.data = data
	cbs := p.onDone
	p.mu.Unlock()

	for _, cb := range cbs {
		cb(data)
	}
}
