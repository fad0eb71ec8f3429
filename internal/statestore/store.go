// Package statestore keeps one serialized snapshot per actor instance in a
// cache. It favors availability: when the cache is unavailable or holds
// nothing usable, Load yields a fresh default and Save degrades to a logged
// warning. The cache is never the source of truth for business facts.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/logging"
)

// Record is the persisted document for one actor instance.
type Record[S any] struct {
	State        S         `json:"state"`
	LastActivity time.Time `json:"lastActivity"`
}

// Store loads and saves snapshots of type S.
type Store[S any] struct {
	cache    cache.Cache
	defaults func() S
	prefix   string
	ttl      time.Duration
	logger   logging.Printer
	clock    func() time.Time
}

// Option customizes a Store.
type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
	logger logging.Printer
	clock  func() time.Time
}

// WithPrefix namespaces every key (prefix + ":" + key).
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithTTL sets the expiry applied on every save. Zero keeps records forever.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithLogger routes degradation warnings.
func WithLogger(l logging.Printer) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects the clock used for last-activity stamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New builds a store over c. defaults must return a fresh value on every call.
func New[S any](c cache.Cache, defaults func() S, opts ...Option) *Store[S] {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if defaults == nil {
		defaults = func() S {
			var zero S
			return zero
		}
	}
	return &Store[S]{
		cache:    c,
		defaults: defaults,
		prefix:   o.prefix,
		ttl:      o.ttl,
		logger:   logging.OrNop(o.logger),
		clock:    o.clock,
	}
}

// Default returns a freshly constructed default state.
func (s *Store[S]) Default() S {
	return s.defaults()
}

// Load returns the stored state and true, or a fresh default and false when the
// record is missing, undecodable, or the cache fails. It never returns an error.
func (s *Store[S]) Load(ctx context.Context, key string) (S, bool) {
	record, ok := s.LoadRecord(ctx, key)
	return record.State, ok
}

// LoadRecord is Load with the last-activity metadata attached.
func (s *Store[S]) LoadRecord(ctx context.Context, key string) (Record[S], bool) {
	fallback := Record[S]{State: s.defaults(), LastActivity: s.clock()}
	if s.cache == nil {
		return fallback, false
	}
	data, err := s.safeGet(ctx, s.key(key))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Printf("statestore: load %s failed, using default: %v", key, err)
		}
		return fallback, false
	}
	if len(data) == 0 {
		return fallback, false
	}
	record := Record[S]{State: s.defaults()}
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Printf("statestore: decode %s failed, using default: %v", key, err)
		return fallback, false
	}
	record.LastActivity = s.clock()
	s.write(ctx, key, record)
	return record, true
}

// Save fully replaces the record for key and stamps its last activity. Cache
// failures are logged and swallowed.
func (s *Store[S]) Save(ctx context.Context, key string, state S) {
	s.write(ctx, key, Record[S]{State: state, LastActivity: s.clock()})
}

// Delete drops the record for key, best effort.
func (s *Store[S]) Delete(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.safeDel(ctx, s.key(key)); err != nil {
		s.logger.Printf("statestore: delete %s failed: %v", key, err)
	}
}

func (s *Store[S]) write(ctx context.Context, key string, record Record[S]) {
	if s.cache == nil {
		s.logger.Printf("statestore: no cache configured, dropping save for %s", key)
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Printf("statestore: encode %s failed: %v", key, err)
		return
	}
	if err := s.safeSet(ctx, s.key(key), data); err != nil {
		s.logger.Printf("statestore: save %s failed, continuing without persistence: %v", key, err)
	}
}

func (s *Store[S]) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// The safe* helpers turn backend panics into errors so a misbehaving cache
// client cannot take down the calling actor.
func (s *Store[S]) safeGet(ctx context.Context, key string) (data []byte, err error) {
	defer recoverInto(&err)
	return s.cache.Get(ctx, key)
}

func (s *Store[S]) safeSet(ctx context.Context, key string, data []byte) (err error) {
	defer recoverInto(&err)
	return s.cache.Set(ctx, key, data, s.ttl)
}

func (s *Store[S]) safeDel(ctx context.Context, key string) (err error) {
	defer recoverInto(&err)
	return s.cache.Del(ctx, key)
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return fmt.Sprintf("statestore: cache panicked: %v", p.value)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = panicError{value: r}
	}
}
