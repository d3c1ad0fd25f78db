package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"castbot/internal/campaign"
	"castbot/internal/eventbus"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

var (
	// ErrAlreadyRunning is returned by Run for a campaign that has a loop.
	ErrAlreadyRunning = fmt.Errorf("already running: %w", campaign.ErrAlreadyExists)
	ErrShutdown       = errors.New("dispatch engine is shut down")
)

type Config struct {
	// MaxConcurrency caps concurrent attempts per cycle; 0 means unlimited.
	MaxConcurrency   int
	PersistRetryMax  int
	PersistRetryBase time.Duration
}

type Engine struct {
	repo   *campaign.Repository
	sender transport.Sender
	sup    *supervisor.Supervisor
	bus    eventbus.Bus
	log    logx.Logger

	mu     sync.Mutex
	cfg    Config
	loops  map[string]*loop
	ops    map[string]*sync.Mutex // per code; orders Run/Stop flag writes
	closed bool
}

type loop struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	// prev is the stopped loop this one replaced; it must exit before the
	// first cycle so one code never has two loops delivering.
	prev *loop
}

func newLoop(prev *loop) *loop {
	return &loop{stop: make(chan struct{}), done: make(chan struct{}), prev: prev}
}

func (l *loop) signal() { l.stopOnce.Do(func() { close(l.stop) }) }

func (l *loop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func New(repo *campaign.Repository, sender transport.Sender, sup *supervisor.Supervisor, bus eventbus.Bus, log logx.Logger, cfg Config) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Engine{
		repo:   repo,
		sender: sender,
		sup:    sup,
		bus:    bus,
		log:    log.With(logx.String("comp", "dispatch")),
		cfg:    cfg,
		loops:  map[string]*loop{},
		ops:    map[string]*sync.Mutex{},
	}
}

// lockCode serializes flag writes for one campaign without blocking others.
func (e *Engine) lockCode(code string) func() {
	e.mu.Lock()
	m := e.ops[code]
	if m == nil {
		m = &sync.Mutex{}
		e.ops[code] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Apply swaps tunables. Running cycles keep their limit; the next cycle
// picks up the new one.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Run persists running=true for code and starts its loop. It returns once
// the loop is scheduled.
func (e *Engine) Run(ctx context.Context, code string) error {
	defer e.lockCode(code)()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}
	// A stopped loop may still be finishing its last cycle. The new loop
	// waits for it to exit before sending anything.
	prev, ok := e.loops[code]
	if ok && !prev.stopped() {
		e.mu.Unlock()
		return fmt.Errorf("campaign %s: %w", code, ErrAlreadyRunning)
	}
	e.mu.Unlock()

	if _, err := e.repo.Update(ctx, code, false, func(c *campaign.Campaign) error {
		c.Running = true
		return nil
	}); err != nil {
		return err
	}

	l := newLoop(prev)
	e.mu.Lock()
	if e.closed {
		// Shut down while the flag was saved; the flag stays set so the
		// campaign resumes on the next start.
		e.mu.Unlock()
		return ErrShutdown
	}
	e.loops[code] = l
	e.mu.Unlock()

	e.sup.Go("dispatch."+code, func(ctx context.Context) error {
		e.runLoop(ctx, code, l)
		return nil
	})
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignStarted, Data: eventbus.CampaignChange{Code: code}})
	return nil
}

// Stop persists running=false and signals the loop. In-flight attempts are
// not cancelled. Stopping a stopped campaign only rewrites the flag.
func (e *Engine) Stop(ctx context.Context, code string) error {
	defer e.lockCode(code)()

	if _, err := e.repo.Update(ctx, code, false, func(c *campaign.Campaign) error {
		c.Running = false
		return nil
	}); err != nil {
		return err
	}

	e.mu.Lock()
	l := e.loops[code]
	e.mu.Unlock()
	if l != nil {
		l.signal()
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignStopped, Data: eventbus.CampaignChange{Code: code}})
	}
	return nil
}

// Wait blocks until the loop for code has exited or ctx is done.
func (e *Engine) Wait(ctx context.Context, code string) error {
	e.mu.Lock()
	l := e.loops[code]
	e.mu.Unlock()
	if l == nil {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether a loop is registered for code.
func (e *Engine) Active(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.loops[code]
	return ok
}

// ActiveCodes lists campaigns with a loop, sorted.
func (e *Engine) ActiveCodes() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.loops))
	for code := range e.loops {
		out = append(out, code)
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

// Resume brings persisted running flags in line with reality after a load:
// campaigns marked running get a fresh loop when resume is set, otherwise
// their flag is cleared.
func (e *Engine) Resume(ctx context.Context, campaigns []campaign.Campaign, resume bool) error {
	var errs []error
	for _, c := range campaigns {
		if !c.Running {
			continue
		}
		var err error
		if resume {
			err = e.Run(ctx, c.Code)
			if err == nil {
				e.log.Info("campaign resumed", logx.String("code", c.Code))
			}
		} else {
			err = e.Stop(ctx, c.Code)
		}
		if err != nil && !errors.Is(err, campaign.ErrAlreadyExists) {
			errs = append(errs, fmt.Errorf("resume %s: %w", c.Code, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown signals every loop without touching persisted flags, so the
// campaigns resume on the next start, and waits for the loops to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	loops := make([]*loop, 0, len(e.loops))
	for _, l := range e.loops {
		loops = append(loops, l)
	}
	e.mu.Unlock()

	for _, l := range loops {
		l.signal()
	}
	for _, l := range loops {
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) runLoop(ctx context.Context, code string, l *loop) {
	log := e.log.With(logx.String("code", code))
	defer func() {
		e.mu.Lock()
		if e.loops[code] == l {
			delete(e.loops, code)
		}
		e.mu.Unlock()
		close(l.done)
		log.Debug("dispatch loop exited")
	}()
	if p := l.prev; p != nil {
		// p is already signaled, so this only outlasts its current cycle.
		l.prev = nil
		<-p.done
	}
	log.Debug("dispatch loop started")

	var gen uint64
	for {
		if l.stopped() || ctx.Err() != nil {
			return
		}
		c, g, err := e.repo.Snapshot(code)
		if err != nil || !c.Running || (gen != 0 && g != gen) {
			return
		}
		gen = g

		e.runCycle(ctx, log, c, gen)

		if l.stopped() || ctx.Err() != nil {
			return
		}
		// The interval may have changed during the cycle.
		c, g, err = e.repo.Snapshot(code)
		if err != nil || !c.Running || g != gen {
			return
		}

		t := time.NewTimer(time.Duration(c.IntervalSeconds) * time.Second)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-l.stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}
