package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/render"
	"github.com/kingrea/lattice-org/internal/resume"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCmd(g *globals) *cobra.Command {
	var initial string
	cmd := &cobra.Command{
		Use:   "start <role>",
		Short: "Start an actor through the bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if initial != "" && !json.Valid([]byte(initial)) {
				return fmt.Errorf("--initial is not valid JSON")
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			res, err := client.Start(cmd.Context(), args[0], json.RawMessage(initial))
			if errors.Is(err, actor.ErrAlreadyActive) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "already active: %s\n", res.Address)
				return err
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Address)
			return err
		},
	}
	cmd.Flags().StringVar(&initial, "initial", "", "initial state as JSON")
	return cmd
}

type sendOptions struct {
	payload   string
	wait      bool
	attempts  int
	delay     time.Duration
	noSpinner bool
}

func newSendCmd(g *globals) *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <address> <type>",
		Short: "Deliver one event to an actor address",
		Long:  "send delivers an event through the bridge. With --wait it keeps retrying with backoff while the address has no live actor.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, kind := args[0], args[1]
			if _, err := mailbox.ParseAddress(address); err != nil {
				return err
			}
			var payload any
			if opts.payload != "" {
				if !json.Valid([]byte(opts.payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				payload = json.RawMessage(opts.payload)
			}
			msg, err := mailbox.NewMessage(kind, payload)
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}

			if !opts.wait {
				accepted, err := client.Send(cmd.Context(), address, msg)
				if err != nil {
					return err
				}
				if !accepted {
					return fmt.Errorf("%s: no live actor accepted %s", address, kind)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "delivered %s to %s\n", kind, address)
				return err
			}

			retry := resume.New(client,
				resume.WithAttempts(opts.attempts),
				resume.WithDelays(opts.delay, 0),
				resume.WithPermanent(actor.IsValidation),
			)
			accepted := false
			deliver := func() error {
				accepted = retry.SendWithRetry(cmd.Context(), address, msg)
				return nil
			}
			label := fmt.Sprintf("Delivering %s to %s...", kind, address)
			if err := withSpinner(cmd, label, opts.noSpinner, deliver); err != nil {
				return err
			}
			if !accepted {
				return fmt.Errorf("%s: %s not accepted after %d attempt(s)", address, kind, opts.attempts)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "delivered %s to %s\n", kind, address)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.payload, "payload", "p", "", "event payload as JSON")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "retry until an actor accepts the event")
	cmd.Flags().IntVar(&opts.attempts, "attempts", resume.DefaultMaxAttempts, "attempt budget for --wait")
	cmd.Flags().DurationVar(&opts.delay, "delay", resume.DefaultInitialDelay, "first backoff delay for --wait")
	cmd.Flags().BoolVar(&opts.noSpinner, "no-spinner", false, "disable the progress spinner")
	return cmd
}

func newStatusCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List live actors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			infos, err := client.Actors(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, infos)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Actors(infos, g.now()))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newStateCmd(g *globals) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "state <address>",
		Short: "Show the committed state of one actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			state, err := client.State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(state))
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.State(args[0], state))
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the JSON snapshot unformatted")
	return cmd
}

func newLogsCmd(g *globals) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the most recent log lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.LogsDir(), logging.FileName)
			tail, err := logging.Tail(path, lines)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Lines(path, tail))
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}
