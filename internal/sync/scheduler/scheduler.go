// Package scheduler turns connectivity signals into queue drains: an
// immediate drain on reconnect plus a periodic drain while online.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/carebridge/syncengine/internal/logging"
)

// ConnectivityProbe supplies the boolean network signal. Subscribe
// registers a callback fired on every online/offline transition and
// returns an unsubscribe function.
type ConnectivityProbe interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Drainer is the manager surface the scheduler drives.
type Drainer interface {
	SetOnline(online bool)
	ProcessSyncQueue(ctx context.Context) error
}

// Config holds scheduler tuning knobs.
type Config struct {
	DrainInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{DrainInterval: 5 * time.Minute}
}

// Scheduler runs drains in response to reconnects and on a fixed
// interval. It never drains while the probe reports offline.
type Scheduler struct {
	probe   ConnectivityProbe
	drainer Drainer
	cfg     *Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	unsub   func()
}

// New creates a Scheduler.
func New(probe ConnectivityProbe, drainer Drainer, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Minute
	}
	return &Scheduler{
		probe:   probe,
		drainer: drainer,
		cfg:     cfg,
	}
}

// Start begins watching connectivity and running periodic drains.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	online := s.probe.IsOnline()
	s.drainer.SetOnline(online)

	s.unsub = s.probe.Subscribe(func(nowOnline bool) {
		s.drainer.SetOnline(nowOnline)
		if !nowOnline {
			logging.Info("connection lost, pausing sync", nil)
			return
		}
		logging.Info("connection restored, draining queue", nil)
		s.drain(ctx)
	})

	s.wg.Add(1)
	go s.loop(ctx)
	s.mu.Unlock()

	if online {
		s.drain(ctx)
	}

	logging.Info("scheduler started", map[string]interface{}{
		"drain_interval": s.cfg.DrainInterval.String(),
		"online":         online,
	})
}

// loop runs the periodic drain ticker until Stop.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.probe.IsOnline() {
				s.drain(ctx)
			}
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	if err := s.drainer.ProcessSyncQueue(ctx); err != nil {
		logging.Warn("scheduled drain failed",
			map[string]interface{}{"error": err.Error()})
	}
}

// Stop halts the ticker and unsubscribes from the probe. It blocks
// until the loop goroutine exits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
	logging.Info("scheduler stopped", nil)
}
