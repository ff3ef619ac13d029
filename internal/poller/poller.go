// Package poller watches one call record until it reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"auralis/internal/calls"
)

// Source reads and ends calls. *calls.Service satisfies it, and so does the
// CLI's API client.
type Source interface {
	Get(ctx context.Context, callID string) (*calls.CallRecord, error)
	MarkEnded(ctx context.Context, callID string, status calls.Status, reason string) (*calls.CallRecord, error)
}

type State int

const (
	Idle State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Cause says why polling ended.
type Cause string

const (
	CauseTerminal Cause = "terminal"
	CauseMissing  Cause = "missing"
	CauseManual   Cause = "manual"
	CauseTimeout  Cause = "timeout"
)

type Result struct {
	CallID string
	// Record is the last record seen or written; nil when the record
	// disappeared or the final write failed.
	Record *calls.CallRecord
	Cause  Cause
	Err    error
}

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxDuration = 30 * time.Minute
)

type Config struct {
	Interval    time.Duration
	MaxDuration time.Duration
}

var (
	ErrAlreadyStarted = errors.New("poller: already started")
	ErrNotActive      = errors.New("poller: not active")
)

// Poller is single-use: Start once, then it ends exactly once.
type Poller struct {
	src Source
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	state    State
	callID   string
	cancel   context.CancelFunc
	onEnd    func(Result)
	onChange func(*calls.CallRecord)
	last     calls.Status
	// ending is set while a manual end is writing, so a concurrent poll
	// that observes the terminal record leaves the cause to EndManually.
	ending bool
	done   chan struct{}
}

func New(src Source, cfg Config, log *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{src: src, cfg: cfg, log: log, done: make(chan struct{})}
}

// OnChange registers a callback for every observed status change. It must be
// called before Start.
func (p *Poller) OnChange(fn func(*calls.CallRecord)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Start reads the record immediately, then every Interval. onEnd fires once
// when the call ends; cancelling ctx stops polling without firing it.
func (p *Poller) Start(ctx context.Context, callID string, onEnd func(Result)) error {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.state = Active
	p.callID = callID
	p.cancel = cancel
	p.onEnd = onEnd
	p.mu.Unlock()

	go p.run(ctx)
	return nil
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// EndManually marks the call completed with reason user_ended and stops
// polling without waiting for the next tick.
func (p *Poller) EndManually(ctx context.Context) (*calls.CallRecord, error) {
	p.mu.Lock()
	if p.state != Active || p.ending {
		p.mu.Unlock()
		return nil, ErrNotActive
	}
	p.ending = true
	callID := p.callID
	p.mu.Unlock()

	rec, err := p.src.MarkEnded(ctx, callID, calls.StatusCompleted, calls.EndReasonUser)
	if err != nil {
		p.log.Error("manual end failed", "call_id", callID, "error", err)
	}
	p.finish(Result{CallID: callID, Record: rec, Cause: CauseManual, Err: err})
	return rec, err
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.cfg.MaxDuration)
	defer deadline.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.state = Ended
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-deadline.C:
			p.timeout(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	callID := p.currentCallID()
	rec, err := p.src.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			p.log.Warn("watched call disappeared", "call_id", callID)
			p.finish(Result{CallID: callID, Cause: CauseMissing, Err: err})
			return
		}
		if ctx.Err() == nil {
			p.log.Warn("call poll failed, retrying next tick", "call_id", callID, "error", err)
		}
		return
	}

	p.mu.Lock()
	changed := rec.Status != p.last
	p.last = rec.Status
	onChange := p.onChange
	active := p.state == Active
	ending := p.ending
	p.mu.Unlock()

	if changed && active && onChange != nil {
		onChange(rec)
	}
	if rec.Terminal() && !ending {
		p.finish(Result{CallID: callID, Record: rec, Cause: CauseTerminal})
	}
}

func (p *Poller) timeout(ctx context.Context) {
	p.mu.Lock()
	callID, ending := p.callID, p.ending
	p.mu.Unlock()
	if ending {
		return
	}
	p.log.Warn("call watch timed out", "call_id", callID, "max_duration", p.cfg.MaxDuration)
	rec, err := p.src.MarkEnded(ctx, callID, calls.StatusFailed, calls.EndReasonTimeout)
	if err != nil {
		p.log.Error("timeout end failed", "call_id", callID, "error", err)
	}
	p.finish(Result{CallID: callID, Record: rec, Cause: CauseTimeout, Err: err})
}

// finish moves to Ended and fires onEnd. Only the first caller wins.
func (p *Poller) finish(res Result) {
	p.mu.Lock()
	if p.state != Active {
		p.mu.Unlock()
		return
	}
	p.state = Ended
	cancel, onEnd := p.cancel, p.onEnd
	p.mu.Unlock()

	cancel()
	if onEnd != nil {
		onEnd(res)
	}
}

func (p *Poller) currentCallID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callID
}
