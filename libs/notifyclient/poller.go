package notifyclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultPollTimeout = 10 * time.Second
)

var ErrPollerRunning = errors.New("notifyclient: poller already running")

// EdgeTrigger fires when the unread count rises above a previously observed non-zero value.
// The first observation after a cold start, and any rise from zero, never fire.
type EdgeTrigger struct {
	mu   sync.Mutex
	prev int
}

// Observe records count and reports whether an alert should play.
func (e *EdgeTrigger) Observe(count int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	fire := count > e.prev && e.prev > 0
	e.prev = count
	return fire
}

// Reset forgets the previous observation, e.g. on logout.
func (e *EdgeTrigger) Reset() {
	e.mu.Lock()
	e.prev = 0
	e.mu.Unlock()
}

type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// Fetch returns the current unread count. Usually Client.UnreadCount.
	Fetch func(ctx context.Context) (int, error)
	// OnCount receives every successful observation.
	OnCount func(count int)
	// OnAlert is called when the edge trigger fires.
	OnAlert func(count int)
	Logger  *slog.Logger
}

// Poller owns the polling loop for one authenticated session. Polls run one at a time on a
// single goroutine, so a slow poll delays the next tick instead of overlapping it.
type Poller struct {
	cfg     PollerConfig
	trigger EdgeTrigger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 || cfg.Timeout > cfg.Interval {
		cfg.Timeout = min(DefaultPollTimeout, cfg.Interval)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{cfg: cfg}
}

// Start polls immediately and then every interval until ctx ends or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrPollerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.trigger.Reset()

	go func() {
		defer close(done)
		p.loop(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight poll to return. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	count, err := p.cfg.Fetch(pollCtx)
	if err != nil {
		if ctx.Err() == nil {
			p.cfg.Logger.Warn("unread count poll failed", "err", err)
		}
		return
	}
	if p.cfg.OnCount != nil {
		p.cfg.OnCount(count)
	}
	if p.trigger.Observe(count) && p.cfg.OnAlert != nil {
		p.cfg.OnAlert(count)
	}
}
