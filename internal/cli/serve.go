package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/lattice-org/internal/agents"
	"github.com/kingrea/lattice-org/internal/eventbridge"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/orgseed"
)

type serveOptions struct {
	org     string
	ceo     string
	ceoID   string
	seed    string
	verbose bool
}

func newServeCmd(g *globals) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the organization and its HTTP bridge until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.org, "org", "", "organization id (default: from the seed file, else \"default\")")
	cmd.Flags().StringVar(&opts.ceo, "ceo", "", "name of the CEO hired on first start")
	cmd.Flags().StringVar(&opts.ceoID, "ceo-id", "", "employee id for the CEO")
	cmd.Flags().StringVar(&opts.seed, "seed", "", "organization seed file applied on first start")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "copy log lines to stderr")
	return cmd
}

func runServe(ctx context.Context, g *globals, opts *serveOptions, stdout, stderr io.Writer) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return err
	}
	defer logger.Close()
	if opts.verbose {
		logger.Tee(stderr)
	}

	var seed *orgseed.File
	if opts.seed != "" {
		f, err := orgseed.LoadFile(opts.seed)
		if err != nil {
			return err
		}
		seed = &f
	}
	boot := bootstrapOptions(opts, seed)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	sys, err := openSystem(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		_ = sys.Runtime.Wait()
		if err := sys.Close(); err != nil {
			logger.Warnf("serve: close backends: %v", err)
		}
	}()

	restored, err := sys.Runtime.Restore(ctx)
	if err != nil {
		logger.Warnf("serve: restore: %v", err)
	}
	if restored > 0 {
		logger.Infof("serve: restored %d actor(s)", restored)
	}
	org, err := agents.Bootstrap(ctx, sys.Runtime, boot)
	if err != nil {
		return err
	}
	if seed != nil {
		applier := &orgseed.Applier{Host: sys.Runtime, Store: sys.Store, Logger: logger}
		if _, err := applier.Apply(ctx, org, *seed); err != nil {
			return err
		}
	}

	server := eventbridge.NewServer(eventbridge.SettingsFromConfig(cfg), sys.Runtime, eventbridge.WithLogger(logger))
	bridge := "disabled"
	switch err := server.Start(ctx); {
	case eventbridge.Disabled(err):
	case err != nil:
		return err
	default:
		bridge = server.BaseURL()
	}

	state := "started"
	if org.Resumed {
		state = "resumed"
	}
	logger.Infof("serve: organization %s %s (hr=%s meeting=%s bridge=%s)", org.ID, state, org.HR, org.Meeting, bridge)
	fmt.Fprintf(stdout, "organization %s %s\n  hr:      %s\n  meeting: %s\n  bridge:  %s\n", org.ID, state, org.HR, org.Meeting, bridge)

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		<-ctx.Done()
		return sys.Runtime.Wait()
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func bootstrapOptions(opts *serveOptions, seed *orgseed.File) agents.BootstrapOptions {
	boot := agents.BootstrapOptions{OrgID: opts.org, CEOName: opts.ceo, CEOID: opts.ceoID}
	if seed == nil {
		return boot
	}
	if boot.OrgID == "" {
		boot.OrgID = seed.Org
	}
	if boot.CEOName == "" {
		boot.CEOName = seed.CEO.Name
		if boot.CEOID == "" {
			boot.CEOID = seed.CEO.ID
		}
	}
	return boot
}
