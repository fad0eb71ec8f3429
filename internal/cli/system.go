package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/config"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/resume"
)

// system is everything a serving process owns.
type system struct {
	Runtime *actor.Runtime
	Store   entity.Store
	closers []func() error
}

// Close releases backends in reverse order of acquisition.
func (s *system) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openSystem builds the cache, entity store, generator and runtime described
// by cfg. Loops live until ctx is cancelled.
func openSystem(ctx context.Context, cfg *config.Config, logger logging.Printer) (*system, error) {
	sys := &system{}
	pc := cfg.Project

	stateCache, err := openCache(ctx, pc.Cache)
	if err != nil {
		return nil, err
	}
	if closer, ok := stateCache.(interface{ Close() error }); ok {
		sys.closers = append(sys.closers, closer.Close)
	}

	switch pc.Entities.Backend {
	case config.EntityBackendTOML:
		repo, err := entity.OpenTOML(cfg.EntitiesPath())
		if err != nil {
			_ = sys.Close()
			return nil, err
		}
		sys.Store = repo
	default:
		sys.Store = entity.NewMemory()
	}

	gen, model, err := openGenerator(cfg)
	if err != nil {
		_ = sys.Close()
		return nil, err
	}

	deps := kit.Deps{
		Entities:      sys.Store,
		Generator:     llm.NewMetered(gen, sys.Store, model, logger),
		RetryAttempts: pc.Runtime.RetryAttempts,
		RetryDelay:    pc.Runtime.RetryDelay.Std(),
		RetryMaxDelay: resume.DefaultMaxDelay,
		MeetingGrace:  pc.Runtime.MeetingGrace.Std(),
	}
	defs := actor.NewRegistry()
	if err := agents.RegisterBuiltins(defs, deps); err != nil {
		_ = sys.Close()
		return nil, err
	}
	rt, err := actor.NewRuntime(ctx, defs,
		actor.WithCache(stateCache),
		actor.WithTick(pc.Runtime.TickInterval.Std()),
		actor.WithStateTTL(pc.Runtime.StateTTL.Std()),
		actor.WithKeyPrefix(pc.Cache.KeyPrefix),
		actor.WithLogger(logger),
	)
	if err != nil {
		_ = sys.Close()
		return nil, err
	}
	sys.Runtime = rt
	return sys, nil
}

func openCache(ctx context.Context, cc config.CacheConfig) (cache.Cache, error) {
	if cc.Backend != config.CacheBackendRedis {
		return cache.NewMemory(), nil
	}
	r := cache.NewRedis(cache.RedisOptions{Addr: cc.RedisAddr, Password: cc.RedisPassword, DB: cc.RedisDB})
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("cache: redis at %s: %w", cc.RedisAddr, err)
	}
	return r, nil
}

func openGenerator(cfg *config.Config) (llm.Generator, string, error) {
	gc := cfg.Project.Generator
	if gc.Backend != config.GeneratorBackendHTTP {
		return llm.Offline{}, config.GeneratorBackendOffline, nil
	}
	gen, err := llm.NewHTTP(llm.HTTPOptions{
		Endpoint: gc.Endpoint,
		Model:    gc.Model,
		APIKey:   cfg.GeneratorAPIKey(),
		Timeout:  gc.Timeout.Std(),
	})
	if err != nil {
		return nil, "", err
	}
	return gen, gen.Model(), nil
}
