package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/statestore"
)

// Host is the view of the runtime handed to running actors so they can start
// and message other actors.
type Host interface {
	Start(ctx context.Context, role string, initial json.RawMessage) (string, error)
	Send(ctx context.Context, address string, msg mailbox.Message) (bool, error)
}

// Process is a started loop, independent of its state type.
type Process interface {
	Address() mailbox.Address
	Open(ctx context.Context) error
	Run(ctx context.Context) error
	Snapshot() (json.RawMessage, error)
	Stats() Stats
}

// Env carries everything a definition needs to build its loop.
type Env struct {
	RunID     string
	Address   mailbox.Address
	Channels  []string
	Mailboxes *mailbox.Registry
	Cache     cache.Cache
	KeyPrefix string
	StateTTL  time.Duration
	Tick      time.Duration
	Logger    logging.Printer
	Clock     func() time.Time
	Host      Host
}

// Now returns the env clock reading.
func (e Env) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// NewLoopFor builds a checkpointed loop for env. defaults is the fallback used
// when a checkpoint is unreadable; initial seeds a fresh run.
func NewLoopFor[S any](env Env, initial S, defaults func() S, handler Handler[S], scanner Scanner[S]) (*Loop[S], error) {
	prefix := "state"
	if env.KeyPrefix != "" {
		prefix = env.KeyPrefix + ":state"
	}
	store := statestore.New[S](env.Cache, defaults,
		statestore.WithPrefix(prefix),
		statestore.WithTTL(env.StateTTL),
		statestore.WithLogger(env.Logger),
		statestore.WithClock(env.Clock),
	)
	return NewLoop(LoopConfig[S]{
		Address:  env.Address,
		Channels: env.Channels,
		Initial:  initial,
		Handler:  handler,
		Scanner:  scanner,
		Store:    store,
		Registry: env.Mailboxes,
		Tick:     env.Tick,
		Logger:   env.Logger,
		Clock:    env.Clock,
	})
}

// Definition describes how to run one role.
type Definition struct {
	Role        string
	Description string
	// Channels lists sub-channel inboxes bound next to the primary address.
	Channels []string
	// Identity derives the logical identity from the initial state. An empty
	// identity means every start creates a new instance.
	Identity func(initial json.RawMessage) (string, error)
	// Validate checks an inbound message for the given channel ("" for the
	// primary inbox) before it is enqueued.
	Validate func(channel string, msg mailbox.Message) error
	// New builds the loop for one run.
	New func(env Env, initial json.RawMessage) (Process, error)
}

func (d Definition) validate() error {
	if d.Role == "" {
		return fmt.Errorf("actor: role is required")
	}
	if d.New == nil {
		return fmt.Errorf("actor: constructor is required for %s", d.Role)
	}
	for _, ch := range d.Channels {
		if ch == "" {
			return fmt.Errorf("actor: empty channel name for %s", d.Role)
		}
	}
	return nil
}

func (d Definition) hasChannel(channel string) bool {
	if channel == "" {
		return true
	}
	for _, ch := range d.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// Registry maintains known role definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// Register installs a definition. Returns an error if the role already exists.
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Role]; exists {
		return fmt.Errorf("actor: %s already registered", def.Role)
	}
	r.defs[def.Role] = def
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for role.
func (r *Registry) Lookup(role string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[role]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return def, nil
}

// Roles returns the sorted registered role names.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.defs))
	for role := range r.defs {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
