package statestore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count  int               `json:"count"`
	Labels map[string]string `json:"labels"`
}

func newCounter() counterState {
	return counterState{Labels: map[string]string{}}
}

type brokenCache struct {
	panics bool
}

func (b brokenCache) Get(context.Context, string) ([]byte, error) {
	if b.panics {
		panic("boom")
	}
	return nil, errors.New("connection refused")
}

func (b brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	if b.panics {
		panic("boom")
	}
	return errors.New("connection refused")
}

func (b brokenCache) Del(context.Context, string) error {
	return errors.New("connection refused")
}

func (b brokenCache) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestLoadMissingReturnsDefault(t *testing.T) {
	store := New(cache.NewMemory(), newCounter)
	state, ok := store.Load(context.Background(), "meeting:run-1")
	assert.False(t, ok)
	assert.Equal(t, 0, state.Count)
	assert.NotNil(t, state.Labels)
}

func TestSaveThenLoadReplacesRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	store := New(cache.NewMemory(), newCounter, WithPrefix("org"), WithClock(func() time.Time { return now }))

	store.Save(ctx, "a", counterState{Count: 2, Labels: map[string]string{"x": "1"}})
	store.Save(ctx, "a", counterState{Count: 3})

	now = now.Add(time.Minute)
	record, ok := store.LoadRecord(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 3, record.State.Count)
	assert.Empty(t, record.State.Labels)
	assert.Equal(t, now, record.LastActivity)
}

func TestLoadRefreshesLastActivity(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	now := time.Unix(1_700_000_000, 0).UTC()
	store := New(mem, newCounter, WithClock(func() time.Time { return now }))
	store.Save(ctx, "a", counterState{Count: 1})

	now = now.Add(time.Hour)
	_, ok := store.Load(ctx, "a")
	require.True(t, ok)

	other := New(mem, newCounter)
	data, err := mem.Get(ctx, "a")
	require.NoError(t, err)
	assert.Contains(t, string(data), now.Format(time.RFC3339))
	_, ok = other.Load(ctx, "a")
	assert.True(t, ok)
}

func TestFailingCacheFallsBackToDefault(t *testing.T) {
	for name, backend := range map[string]cache.Cache{
		"errors": brokenCache{},
		"panics": brokenCache{panics: true},
		"nil":    nil,
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			store := New(backend, newCounter, WithLogger(logging.NewWriter(&buf)))
			ctx := context.Background()

			assert.NotPanics(t, func() {
				store.Save(ctx, "a", counterState{Count: 5})
			})
			state, ok := store.Load(ctx, "a")
			assert.False(t, ok)
			assert.Equal(t, 0, state.Count)
			assert.NotNil(t, state.Labels)
			assert.NotPanics(t, func() { store.Delete(ctx, "a") })
		})
	}
}

func TestCorruptRecordFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	require.NoError(t, mem.Set(ctx, "a", []byte("{not json"), 0))
	store := New(mem, newCounter)
	state, ok := store.Load(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, state.Count)
}

func TestSaveAppliesTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mem := cache.NewMemory(cache.WithMemoryClock(func() time.Time { return now }))
	store := New(mem, newCounter, WithTTL(time.Minute))
	store.Save(ctx, "a", counterState{Count: 1})

	now = now.Add(2 * time.Minute)
	_, ok := store.Load(ctx, "a")
	assert.False(t, ok)
}
