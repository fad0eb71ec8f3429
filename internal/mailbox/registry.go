// Package mailbox implements the hook registry: a mapping from a stable address
// to the pending-message queue of one live actor instance.
package mailbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kingrea/lattice-org/internal/logging"
)

const (
	defaultInboxCapacity = 1024
	defaultDedupeWindow  = 1024
)

var (
	// ErrAddressBound is returned when an address already has a live inbox.
	ErrAddressBound = errors.New("mailbox: address already bound")
	// ErrInboxClosed is returned when operating on a released inbox.
	ErrInboxClosed = errors.New("mailbox: inbox closed")
)

// RegistryOption customizes Registry construction.
type RegistryOption func(*Registry)

// WithLogger injects a logger for rejected and duplicate deliveries.
func WithLogger(logger logging.Printer) RegistryOption {
	return func(r *Registry) {
		r.logger = logging.OrNop(logger)
	}
}

// WithInboxCapacity bounds how many undrained messages an inbox holds.
func WithInboxCapacity(capacity int) RegistryOption {
	return func(r *Registry) {
		if capacity > 0 {
			r.capacity = capacity
		}
	}
}

// WithDedupeWindow controls how many recent message IDs each inbox remembers.
func WithDedupeWindow(size int) RegistryOption {
	return func(r *Registry) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Registry binds addresses to inboxes. Binding is exclusive.
type Registry struct {
	inboxes      *xsync.MapOf[string, *Inbox]
	capacity     int
	dedupeWindow int
	logger       logging.Printer
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		inboxes:      xsync.NewMapOf[string, *Inbox](),
		capacity:     defaultInboxCapacity,
		dedupeWindow: defaultDedupeWindow,
		logger:       logging.Nop{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register binds a new inbox to addr. A second registration for a bound
// address fails with ErrAddressBound.
func (r *Registry) Register(addr Address) (*Inbox, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	key := addr.String()
	inbox := newInbox(addr, r.capacity, r.dedupeWindow, r.logger)
	if _, loaded := r.inboxes.LoadOrStore(key, inbox); loaded {
		return nil, fmt.Errorf("%w: %s", ErrAddressBound, key)
	}
	inbox.release = func() {
		r.inboxes.Compute(key, func(current *Inbox, loaded bool) (*Inbox, bool) {
			return current, loaded && current == inbox
		})
	}
	return inbox, nil
}

// Send delivers msg to the inbox bound at address. It returns false when no
// inbox is bound, the address is malformed, the inbox is closed or full.
func (r *Registry) Send(address string, msg Message) bool {
	addr, err := ParseAddress(address)
	if err != nil {
		r.logger.Printf("mailbox: reject %s to %q: %v", msg.Type, address, err)
		return false
	}
	inbox, ok := r.inboxes.Load(addr.String())
	if !ok {
		return false
	}
	msg.To = addr.String()
	return inbox.push(msg)
}

// Bound reports whether address currently has a live inbox.
func (r *Registry) Bound(address string) bool {
	addr, err := ParseAddress(address)
	if err != nil {
		return false
	}
	_, ok := r.inboxes.Load(addr.String())
	return ok
}

// Addresses lists every bound address in sorted order.
func (r *Registry) Addresses() []string {
	out := make([]string, 0, r.inboxes.Size())
	r.inboxes.Range(func(key string, _ *Inbox) bool {
		out = append(out, key)
		return true
	})
	sort.Strings(out)
	return out
}

// Inbox is the pending-message queue of one actor channel. Messages pushed
// while the owner is suspended wait for its next Drain.
type Inbox struct {
	address      Address
	capacity     int
	dedupeWindow int
	logger       logging.Printer
	release      func()

	mu          sync.Mutex
	queue       []Message
	recentIDs   map[string]struct{}
	recentOrder []string
	closed      bool
	ready       chan struct{}
}

func newInbox(addr Address, capacity, dedupeWindow int, logger logging.Printer) *Inbox {
	return &Inbox{
		address:      addr,
		capacity:     capacity,
		dedupeWindow: dedupeWindow,
		logger:       logger,
		recentIDs:    map[string]struct{}{},
		ready:        make(chan struct{}, 1),
	}
}

// Address returns the bound address.
func (in *Inbox) Address() Address {
	return in.address
}

// Ready is signalled whenever a message is enqueued.
func (in *Inbox) Ready() <-chan struct{} {
	return in.ready
}

// Len reports how many messages await draining.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Drain removes and returns every queued message in arrival order.
func (in *Inbox) Drain() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) == 0 {
		return nil
	}
	out := in.queue
	in.queue = nil
	return out
}

// Close unbinds the inbox. Subsequent sends to its address are not accepted.
func (in *Inbox) Close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	in.mu.Unlock()
	if in.release != nil {
		in.release()
	}
}

func (in *Inbox) push(msg Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	if msg.ID != "" {
		if _, seen := in.recentIDs[msg.ID]; seen {
			in.logger.Printf("mailbox: %s ignored duplicate %s (%s)", in.address, msg.ID, msg.Type)
			return true
		}
	}
	if len(in.queue) >= in.capacity {
		in.logger.Printf("mailbox: %s full (limit %d), rejected %s", in.address, in.capacity, msg.Type)
		return false
	}
	in.queue = append(in.queue, msg)
	if msg.ID != "" {
		in.remember(msg.ID)
	}
	select {
	case in.ready <- struct{}{}:
	default:
	}
	return true
}

// remember records id as delivered. Rejected messages are never remembered.
func (in *Inbox) remember(id string) {
	in.recentIDs[id] = struct{}{}
	in.recentOrder = append(in.recentOrder, id)
	if len(in.recentOrder) > in.dedupeWindow {
		oldest := in.recentOrder[0]
		in.recentOrder = in.recentOrder[1:]
		delete(in.recentIDs, oldest)
	}
}
