// Package kittest provides an in-memory actor host for role tests.
package kittest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

// Sent is one recorded delivery.
type Sent struct {
	Address string
	Message mailbox.Message
}

// Started is one recorded start.
type Started struct {
	Role    string
	RunID   string
	Initial json.RawMessage
}

// Host records starts and sends. Sends to addresses listed in Reject, or to
// anything when AcceptAll is false and the address was never started or
// allowed, are not accepted.
type Host struct {
	mu        sync.Mutex
	AcceptAll bool
	allowed   map[string]bool
	reject    map[string]bool
	sent      []Sent
	started   []Started
	seq       int
}

var _ actor.Host = (*Host)(nil)

// NewHost returns a host that accepts every send.
func NewHost() *Host {
	return &Host{AcceptAll: true, allowed: map[string]bool{}, reject: map[string]bool{}}
}

// Reject makes sends to address fail as not accepted.
func (h *Host) Reject(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reject[address] = true
}

// Start implements actor.Host, assigning sequential run IDs.
func (h *Host) Start(_ context.Context, role string, initial json.RawMessage) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	runID := fmt.Sprintf("run-%d", h.seq)
	h.started = append(h.started, Started{Role: role, RunID: runID, Initial: initial})
	h.allowed[role+":"+runID] = true
	return runID, nil
}

// Send implements actor.Host.
func (h *Host) Send(_ context.Context, address string, msg mailbox.Message) (bool, error) {
	if _, err := mailbox.ParseAddress(address); err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reject[address] {
		return false, nil
	}
	if !h.AcceptAll && !h.allowed[address] {
		return false, nil
	}
	h.sent = append(h.sent, Sent{Address: address, Message: msg})
	return true, nil
}

// Sent returns recorded deliveries, optionally filtered by event type.
func (h *Host) Sent(types ...string) []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(types) == 0 {
		return append([]Sent(nil), h.sent...)
	}
	var out []Sent
	for _, s := range h.sent {
		for _, typ := range types {
			if s.Message.Type == typ {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Started returns recorded starts.
func (h *Host) Started() []Started {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Started(nil), h.started...)
}

// Env builds an actor env for role bound to host with a fixed clock.
func Env(role string, host actor.Host, clock func() time.Time, logger logging.Printer) actor.Env {
	return actor.Env{
		RunID:   "test",
		Address: mailbox.NewAddress(role, "test"),
		Logger:  logger,
		Clock:   clock,
		Host:    host,
	}
}

// Deps returns dependencies wired to an in-memory store and the offline
// generator, with instant retries and no grace wait.
func Deps(store entity.Store, gen llm.Generator) kit.Deps {
	if gen == nil {
		gen = llm.Offline{}
	}
	return kit.Deps{
		Entities:      store,
		Generator:     gen,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: time.Millisecond,
		Sleep:         func(context.Context, time.Duration) {},
	}
}

// Clock is a settable test clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock by d, which may be negative.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
