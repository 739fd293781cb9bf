package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/carebridge/syncengine/internal/logging"
)

// CheckFunc reports whether the remote is reachable right now.
type CheckFunc func(ctx context.Context) bool

// PollingProbe implements ConnectivityProbe by running a reachability
// check on a fixed interval and notifying subscribers on transitions.
type PollingProbe struct {
	check    CheckFunc
	interval time.Duration

	mu      sync.Mutex
	online  bool
	subs    map[int]func(online bool)
	nextID  int
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPollingProbe creates a probe around the given check. The probe
// starts offline until the first check runs.
func NewPollingProbe(check CheckFunc, interval time.Duration) *PollingProbe {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PollingProbe{
		check:    check,
		interval: interval,
		subs:     make(map[int]func(online bool)),
	}
}

// Start runs the first check immediately and then polls until Stop.
func (p *PollingProbe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.update(p.check(ctx))

	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *PollingProbe) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.update(p.check(ctx))
		}
	}
}

// update records the check result and fires subscribers on a change.
func (p *PollingProbe) update(online bool) {
	p.mu.Lock()
	changed := online != p.online
	p.online = online
	var fns []func(bool)
	if changed {
		for _, fn := range p.subs {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	logging.Debug("connectivity changed",
		map[string]interface{}{"online": online})
	for _, fn := range fns {
		fn(online)
	}
}

// Stop halts polling; subscribers receive no further notifications.
func (p *PollingProbe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// IsOnline reports the most recent check result.
func (p *PollingProbe) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe registers a transition callback and returns its
// unsubscribe function.
func (p *PollingProbe) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.subs[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

var _ ConnectivityProbe = (*PollingProbe)(nil)
