package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/statestore"
)

// DefaultTick is the suspension between loop iterations.
const DefaultTick = 5 * time.Second

// Handler applies one message to the current state and returns the next state.
// Returning an error discards the next state.
type Handler[S any] interface {
	Handle(ctx context.Context, state S, msg mailbox.Message) (S, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[S any] func(ctx context.Context, state S, msg mailbox.Message) (S, error)

// Handle implements Handler.
func (f HandlerFunc[S]) Handle(ctx context.Context, state S, msg mailbox.Message) (S, error) {
	return f(ctx, state, msg)
}

// Scanner performs the proactive step that runs once per iteration after the
// inbox has been drained.
type Scanner[S any] interface {
	Scan(ctx context.Context, state S) (S, error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc[S any] func(ctx context.Context, state S) (S, error)

// Scan implements Scanner.
func (f ScannerFunc[S]) Scan(ctx context.Context, state S) (S, error) {
	return f(ctx, state)
}

// Stats are loop counters exposed through the runtime.
type Stats struct {
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
	Scans     int64     `json:"scans"`
	Pending   int       `json:"pending"`
	LastTick  time.Time `json:"lastTick"`
}

// LoopConfig wires one loop.
type LoopConfig[S any] struct {
	Address  mailbox.Address
	Channels []string
	Initial  S
	Handler  Handler[S]
	Scanner  Scanner[S]
	Store    *statestore.Store[S]
	Registry *mailbox.Registry
	Tick     time.Duration
	Logger   logging.Printer
	Clock    func() time.Time
}

// Loop is a durable actor loop over state S. Only the loop goroutine mutates
// state; readers receive copies.
type Loop[S any] struct {
	cfg    LoopConfig[S]
	logger logging.Printer
	key    string

	mu      sync.RWMutex
	state   S
	inboxes []*mailbox.Inbox
	opened  bool

	processed *atomic.Int64
	failed    *atomic.Int64
	scans     *atomic.Int64
	lastTick  *atomic.Time
}

// NewLoop validates cfg and returns an unopened loop.
func NewLoop[S any](cfg LoopConfig[S]) (*Loop[S], error) {
	if err := cfg.Address.Validate(); err != nil {
		return nil, err
	}
	if cfg.Address.Channel != "" {
		return nil, fmt.Errorf("actor: loop address %s must not carry a channel", cfg.Address)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("actor: handler is required for %s", cfg.Address)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("actor: mailbox registry is required for %s", cfg.Address)
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Loop[S]{
		cfg:       cfg,
		logger:    logging.OrNop(cfg.Logger),
		key:       cfg.Address.String(),
		processed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		scans:     atomic.NewInt64(0),
		lastTick:  atomic.NewTime(time.Time{}),
	}, nil
}

// Address returns the primary address.
func (l *Loop[S]) Address() mailbox.Address {
	return l.cfg.Address
}

// Open restores the checkpoint (or seeds the initial state) and binds the
// primary and channel inboxes. Opening twice is a no-op.
func (l *Loop[S]) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return nil
	}
	state, restored := l.cfg.Initial, false
	if l.cfg.Store != nil {
		if saved, ok := l.cfg.Store.Load(ctx, l.key); ok {
			state, restored = saved, true
		} else {
			l.cfg.Store.Save(ctx, l.key, state)
		}
	}

	addrs := []mailbox.Address{l.cfg.Address}
	for _, ch := range l.cfg.Channels {
		addrs = append(addrs, l.cfg.Address.With(ch))
	}
	inboxes := make([]*mailbox.Inbox, 0, len(addrs))
	for _, addr := range addrs {
		inbox, err := l.cfg.Registry.Register(addr)
		if err != nil {
			for _, opened := range inboxes {
				opened.Close()
			}
			return err
		}
		inboxes = append(inboxes, inbox)
	}
	l.state = state
	l.inboxes = inboxes
	l.opened = true
	l.logger.Printf("actor %s: opened (restored=%t, channels=%v)", l.key, restored, l.cfg.Channels)
	return nil
}

// Close releases every inbox binding.
func (l *Loop[S]) Close() {
	l.mu.Lock()
	inboxes := l.inboxes
	l.inboxes = nil
	l.opened = false
	l.mu.Unlock()
	for _, inbox := range inboxes {
		inbox.Close()
	}
}

// Run opens the loop and iterates until ctx is cancelled. Between iterations
// the loop sleeps for the tick or until a message arrives.
func (l *Loop[S]) Run(ctx context.Context) error {
	if err := l.Open(ctx); err != nil {
		return err
	}
	defer l.Close()

	wake := make(chan struct{}, 1)
	for _, inbox := range l.boundInboxes() {
		go forwardWake(ctx, inbox.Ready(), wake)
	}
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			l.logger.Printf("actor %s: host shutting down", l.key)
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

func forwardWake(ctx context.Context, ready <-chan struct{}, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

// Tick runs one iteration: drain every inbox in arrival order, then scan. It
// returns how many messages were applied.
func (l *Loop[S]) Tick(ctx context.Context) int {
	// In-flight handler work is not cancelled by host teardown.
	work := context.WithoutCancel(ctx)
	applied := 0
	for _, inbox := range l.boundInboxes() {
		for _, msg := range inbox.Drain() {
			l.apply(work, msg)
			applied++
		}
	}
	if l.cfg.Scanner != nil {
		l.scan(work)
	}
	l.lastTick.Store(l.cfg.Clock())
	return applied
}

func (l *Loop[S]) apply(ctx context.Context, msg mailbox.Message) {
	next, err := l.safeHandle(ctx, l.State(), msg)
	l.processed.Inc()
	if err != nil {
		l.failed.Inc()
		l.logger.Printf("actor %s: %s (%s) failed: %v", l.key, msg.Type, msg.ID, err)
		return
	}
	l.commit(ctx, next)
}

func (l *Loop[S]) scan(ctx context.Context) {
	next, err := l.safeScan(ctx, l.State())
	l.scans.Inc()
	if err != nil {
		l.failed.Inc()
		l.logger.Printf("actor %s: scan failed: %v", l.key, err)
		return
	}
	l.commit(ctx, next)
}

func (l *Loop[S]) commit(ctx context.Context, next S) {
	l.mu.Lock()
	l.state = next
	l.mu.Unlock()
	if l.cfg.Store != nil {
		l.cfg.Store.Save(ctx, l.key, next)
	}
}

func (l *Loop[S]) safeHandle(ctx context.Context, state S, msg mailbox.Message) (next S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.cfg.Handler.Handle(ctx, state, msg)
}

func (l *Loop[S]) safeScan(ctx context.Context, state S) (next S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panic: %v", r)
		}
	}()
	return l.cfg.Scanner.Scan(ctx, state)
}

// State returns a deep copy of the current state, so handlers may mutate what
// they receive without affecting the committed record.
func (l *Loop[S]) State() S {
	l.mu.RLock()
	current := l.state
	l.mu.RUnlock()
	return copyState(current)
}

// Snapshot returns the JSON encoding of the current state.
func (l *Loop[S]) Snapshot() (json.RawMessage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.state)
}

// Stats reports loop counters.
func (l *Loop[S]) Stats() Stats {
	pending := 0
	for _, inbox := range l.boundInboxes() {
		pending += inbox.Len()
	}
	return Stats{
		Processed: l.processed.Load(),
		Failed:    l.failed.Load(),
		Scans:     l.scans.Load(),
		Pending:   pending,
		LastTick:  l.lastTick.Load(),
	}
}

func (l *Loop[S]) boundInboxes() []*mailbox.Inbox {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*mailbox.Inbox(nil), l.inboxes...)
}

func copyState[S any](state S) S {
	data, err := json.Marshal(state)
	if err != nil {
		return state
	}
	var out S
	if err := json.Unmarshal(data, &out); err != nil {
		return state
	}
	return out
}
