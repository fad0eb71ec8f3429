// Package cli implements the lattice-org command line.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-org/internal/config"
	"github.com/kingrea/lattice-org/internal/eventbridge"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// globals are the persistent flags shared by every command.
type globals struct {
	dir     string
	addr    string
	timeout time.Duration
	now     func() time.Time
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{now: time.Now}
	rootCmd := &cobra.Command{
		Use:           "lattice-org",
		Short:         "Run and drive a durable agent organization",
		Long:          "lattice-org hosts an organization of HR, CEO, manager, IC and meeting actors, and talks to a running organization through its HTTP bridge.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&g.dir, "dir", "", "project directory holding .lattice-org (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&g.addr, "addr", "", "bridge base URL (default: from the project config)")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "HTTP timeout for bridge requests")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(g),
		newServeCmd(g),
		newStartCmd(g),
		newSendCmd(g),
		newStatusCmd(g),
		newStateCmd(g),
		newLogsCmd(g),
	)
	return rootCmd
}

func (g *globals) projectDir() (string, error) {
	if g.dir != "" {
		return filepath.Abs(g.dir)
	}
	return os.Getwd()
}

func (g *globals) config() (*config.Config, error) {
	dir, err := g.projectDir()
	if err != nil {
		return nil, err
	}
	return config.NewConfig(dir)
}

// client resolves the bridge URL from --addr or the project config.
func (g *globals) client() (*eventbridge.Client, error) {
	base := g.addr
	if base == "" {
		cfg, err := g.config()
		if err != nil {
			return nil, err
		}
		base = eventbridge.SettingsFromConfig(cfg).DialURL()
	}
	return eventbridge.NewClient(base, newHTTPClient(g.timeout)), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}

func newInitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .lattice-org with a default config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := g.projectDir()
			if err != nil {
				return err
			}
			if err := config.InitProjectDir(dir); err != nil {
				return fmt.Errorf("init %s: %w", dir, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", filepath.Join(dir, config.ProjectDirName))
			return err
		},
	}
}
