package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/statestore"
)

const indexKey = "actors"

// Info describes one live actor.
type Info struct {
	RunID     string    `json:"runId"`
	Role      string    `json:"role"`
	Address   string    `json:"address"`
	Identity  string    `json:"identity,omitempty"`
	Channels  []string  `json:"channels,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Stats     Stats     `json:"stats"`
}

// Index records started actors so they can be restarted after a restart.
type Index struct {
	Actors []IndexEntry `json:"actors"`
}

// IndexEntry is one recorded start.
type IndexEntry struct {
	RunID     string          `json:"runId"`
	Role      string          `json:"role"`
	Identity  string          `json:"identity,omitempty"`
	Initial   json.RawMessage `json:"initial,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
}

type liveActor struct {
	info        Info
	proc        Process
	identityKey string
}

// Option customizes the runtime.
type Option func(*Runtime)

// WithCache sets the backing cache for checkpoints and the actor index.
func WithCache(c cache.Cache) Option {
	return func(r *Runtime) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithMailboxes shares an existing hook registry.
func WithMailboxes(reg *mailbox.Registry) Option {
	return func(r *Runtime) {
		if reg != nil {
			r.mailboxes = reg
		}
	}
}

// WithTick sets the loop suspension quantum.
func WithTick(tick time.Duration) Option {
	return func(r *Runtime) {
		if tick > 0 {
			r.tick = tick
		}
	}
}

// WithStateTTL sets the expiry of checkpoints.
func WithStateTTL(ttl time.Duration) Option {
	return func(r *Runtime) { r.ttl = ttl }
}

// WithKeyPrefix namespaces cache keys.
func WithKeyPrefix(prefix string) Option {
	return func(r *Runtime) { r.prefix = prefix }
}

// WithLogger injects the runtime logger, shared with every loop.
func WithLogger(logger logging.Printer) Option {
	return func(r *Runtime) { r.logger = logging.OrNop(logger) }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Runtime hosts actor loops for the lifetime of ctx.
type Runtime struct {
	defs      *Registry
	mailboxes *mailbox.Registry
	cache     cache.Cache
	tick      time.Duration
	ttl       time.Duration
	prefix    string
	logger    logging.Printer
	clock     func() time.Time

	ctx        context.Context
	group      *errgroup.Group
	actors     *xsync.MapOf[string, *liveActor]
	identities *xsync.MapOf[string, string]
	index      *statestore.Store[Index]
	indexMu    sync.Mutex
}

var _ Host = (*Runtime)(nil)

// NewRuntime wires a runtime to the role registry. Loops stop when ctx is
// cancelled; Wait blocks until they have all returned.
func NewRuntime(ctx context.Context, defs *Registry, opts ...Option) (*Runtime, error) {
	if defs == nil {
		return nil, fmt.Errorf("actor runtime: role registry is required")
	}
	r := &Runtime{
		defs:       defs,
		tick:       DefaultTick,
		logger:     logging.Nop{},
		clock:      time.Now,
		actors:     xsync.NewMapOf[string, *liveActor](),
		identities: xsync.NewMapOf[string, string](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.mailboxes == nil {
		r.mailboxes = mailbox.NewRegistry(mailbox.WithLogger(r.logger))
	}
	if r.cache == nil {
		r.cache = cache.NewMemory()
	}
	indexPrefix := "index"
	if r.prefix != "" {
		indexPrefix = r.prefix + ":index"
	}
	r.index = statestore.New[Index](r.cache, func() Index { return Index{} },
		statestore.WithPrefix(indexPrefix),
		statestore.WithLogger(r.logger),
		statestore.WithClock(r.clock),
	)
	r.group, r.ctx = errgroup.WithContext(ctx)
	return r, nil
}

// Mailboxes exposes the hook registry.
func (r *Runtime) Mailboxes() *mailbox.Registry {
	return r.mailboxes
}

// Roles lists the registered roles.
func (r *Runtime) Roles() []string {
	return r.defs.Roles()
}

// Start creates an actor for role seeded with initial. When the role derives
// a logical identity that is already running, the existing run ID is returned
// together with ErrAlreadyActive.
func (r *Runtime) Start(ctx context.Context, role string, initial json.RawMessage) (string, error) {
	return r.start(ctx, role, initial, "", true)
}

func (r *Runtime) start(ctx context.Context, role string, initial json.RawMessage, runID string, record bool) (string, error) {
	def, err := r.defs.Lookup(role)
	if err != nil {
		return "", err
	}
	if len(initial) == 0 {
		initial = json.RawMessage("{}")
	}
	if !json.Valid(initial) {
		return "", Invalid("initial state for %s is not valid JSON", role)
	}
	identity := ""
	if def.Identity != nil {
		if identity, err = def.Identity(initial); err != nil {
			if IsValidation(err) {
				return "", err
			}
			return "", fmt.Errorf("%w: %s identity: %v", ErrValidation, role, err)
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	identityKey := ""
	if identity != "" {
		identityKey = role + "/" + identity
		if existing, loaded := r.identities.LoadOrStore(identityKey, runID); loaded {
			return existing, fmt.Errorf("%w: %s %q runs as %s", ErrAlreadyActive, role, identity, existing)
		}
	}

	addr := mailbox.NewAddress(role, runID)
	env := Env{
		RunID:     runID,
		Address:   addr,
		Channels:  append([]string(nil), def.Channels...),
		Mailboxes: r.mailboxes,
		Cache:     r.cache,
		KeyPrefix: r.prefix,
		StateTTL:  r.ttl,
		Tick:      r.tick,
		Logger:    r.logger,
		Clock:     r.clock,
		Host:      r,
	}
	proc, err := def.New(env, initial)
	if err == nil {
		err = proc.Open(ctx)
	}
	if err != nil {
		r.releaseIdentity(identityKey, runID)
		return "", fmt.Errorf("actor: start %s: %w", role, err)
	}

	live := &liveActor{
		info: Info{
			RunID:     runID,
			Role:      role,
			Address:   addr.String(),
			Identity:  identity,
			Channels:  env.Channels,
			StartedAt: r.clock().UTC(),
		},
		proc:        proc,
		identityKey: identityKey,
	}
	r.actors.Store(runID, live)
	if record {
		r.recordStart(ctx, IndexEntry{RunID: runID, Role: role, Identity: identity, Initial: initial, StartedAt: live.info.StartedAt})
	}
	r.group.Go(func() error {
		defer r.forget(live)
		if err := proc.Run(r.ctx); err != nil {
			r.logger.Printf("actor %s: stopped: %v", addr, err)
		}
		return nil
	})
	r.logger.Printf("actor runtime: started %s", addr)
	return runID, nil
}

func (r *Runtime) forget(live *liveActor) {
	r.actors.Compute(live.info.RunID, func(current *liveActor, loaded bool) (*liveActor, bool) {
		return current, loaded && current == live
	})
	r.releaseIdentity(live.identityKey, live.info.RunID)
}

func (r *Runtime) releaseIdentity(key, runID string) {
	if key == "" {
		return
	}
	r.identities.Compute(key, func(current string, loaded bool) (string, bool) {
		return current, loaded && current == runID
	})
}

func (r *Runtime) recordStart(ctx context.Context, entry IndexEntry) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	idx, _ := r.index.Load(ctx, indexKey)
	idx.Actors = append(idx.Actors, entry)
	r.index.Save(ctx, indexKey, idx)
}

// Send validates msg against the target role and enqueues it. It returns
// false with a nil error when no live inbox is bound at address.
func (r *Runtime) Send(_ context.Context, address string, msg mailbox.Message) (bool, error) {
	addr, err := mailbox.ParseAddress(address)
	if err != nil {
		return false, err
	}
	def, err := r.defs.Lookup(addr.Role)
	if err != nil {
		return false, nil
	}
	if !def.hasChannel(addr.Channel) {
		return false, nil
	}
	if msg.Type == "" {
		return false, Invalid("message type is required")
	}
	if def.Validate != nil {
		if err := def.Validate(addr.Channel, msg); err != nil {
			if IsValidation(err) {
				return false, err
			}
			return false, fmt.Errorf("%w: %s %s: %v", ErrValidation, addr.Role, msg.Type, err)
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = r.clock().UTC()
	}
	return r.mailboxes.Send(addr.String(), msg), nil
}

// State returns the JSON snapshot of the actor bound at address.
func (r *Runtime) State(address string) (json.RawMessage, error) {
	live, err := r.lookup(address)
	if err != nil {
		return nil, err
	}
	return live.proc.Snapshot()
}

// Describe returns the live info for the actor at address.
func (r *Runtime) Describe(address string) (Info, error) {
	live, err := r.lookup(address)
	if err != nil {
		return Info{}, err
	}
	info := live.info
	info.Stats = live.proc.Stats()
	return info, nil
}

func (r *Runtime) lookup(address string) (*liveActor, error) {
	addr, err := mailbox.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	live, ok := r.actors.Load(addr.RunID)
	if !ok || live.info.Role != addr.Role {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return live, nil
}

// Actors lists live actors ordered by start time.
func (r *Runtime) Actors() []Info {
	out := make([]Info, 0, r.actors.Size())
	r.actors.Range(func(_ string, live *liveActor) bool {
		info := live.info
		info.Stats = live.proc.Stats()
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Restore restarts every actor recorded in the index that is not already
// live, reusing its run ID so its checkpoint is picked up. It returns how many
// actors were restarted.
func (r *Runtime) Restore(ctx context.Context) (int, error) {
	r.indexMu.Lock()
	idx, _ := r.index.Load(ctx, indexKey)
	r.indexMu.Unlock()

	restored := 0
	var errs []error
	for _, entry := range idx.Actors {
		if _, live := r.actors.Load(entry.RunID); live {
			continue
		}
		if _, err := r.start(ctx, entry.Role, entry.Initial, entry.RunID, false); err != nil {
			if errors.Is(err, ErrAlreadyActive) {
				continue
			}
			r.logger.Printf("actor runtime: restore %s:%s failed: %v", entry.Role, entry.RunID, err)
			errs = append(errs, err)
			continue
		}
		restored++
	}
	return restored, errors.Join(errs...)
}

// Wait blocks until every loop has returned.
func (r *Runtime) Wait() error {
	return r.group.Wait()
}
