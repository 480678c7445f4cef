package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mobflare/mobflare/go/internal/config"
	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/flare/naming"
	"github.com/mobflare/mobflare/go/internal/logging"
	"github.com/mobflare/mobflare/go/internal/models"
)

type cli struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "mobflare",
		Short:         "Join a flare and fire in sync with everyone else",
		Long:          "mobflare finds nearby flares, waits for the quorum and fires the configured output at the coordinated instant.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.Setup(cfg.Environment)
			c.cfg = cfg
			return nil
		},
	}

	root.AddCommand(
		c.listCmd(),
		c.createCmd(),
		c.joinCmd(),
		c.nameCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		code := exitCode(err)
		if code != 0 {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(code)
	}
}

// exitCode maps a command error onto the process exit status. An abandoned
// flare is a normal exit.
func exitCode(err error) int {
	switch flare.Classify(err) {
	case flare.KindNone, flare.KindCancelled:
		return 0
	case flare.KindObsoleteClient:
		return 3
	case flare.KindInvalidSession:
		return 4
	case flare.KindDuplicateName:
		return 5
	case flare.KindLocationUnavailable:
		return 6
	default:
		return 1
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List flares near the current location, closest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := setupServices(ctx, c.cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			loc, err := svc.Locate(ctx)
			if err != nil {
				return err
			}
			names, err := svc.Coordinator.ListFlares(ctx, loc, c.cfg.Coordinator.SearchRadiusKm)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintf(out, "no flares within %g km\n", c.cfg.Coordinator.SearchRadiusKm)
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	opts := createOptions{flareType: string(models.FlareTypeOnce)}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a flare here, then wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.settings(cmd.Flags().Changed)
			if err != nil {
				return err
			}
			name := opts.name
			if name == "" {
				name = naming.Suggest(rand.New(rand.NewSource(time.Now().UnixNano())))
			}

			ctx := cmd.Context()
			svc, err := setupServices(ctx, c.cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			loc, err := svc.Locate(ctx)
			if err != nil {
				return err
			}
			confirmed, err := svc.Coordinator.CreateFlare(ctx, name, settings.Properties(loc))
			if err != nil {
				return err
			}
			log.Info().Str("flare", confirmed).Str("type", string(settings.Type)).Msg("flare created")

			return runUntilSignalled(ctx, svc, confirmed, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.flareType, "type", opts.flareType, "flare type: once, repeat, wave or wave_repeat")
	f.IntVar(&opts.quorum, "quorum", 0, "participants needed before the countdown starts")
	f.IntVar(&opts.countdown, "countdown", 0, "countdown length in seconds")
	f.IntVar(&opts.repeat, "repeat", 0, "seconds between repeated outputs")
	f.IntVar(&opts.stagger, "stagger", 0, "deciseconds between consecutive participants")
	f.StringVar(&opts.name, "name", "", "flare name (default: a random phonetic name)")
	return cmd
}

func (c *cli) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <name>",
		Short: "Join a flare, wait for the quorum and fire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := setupServices(ctx, c.cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.Close()

			return runUntilSignalled(ctx, svc, args[0], cmd.OutOrStdout())
		},
	}
}

func (c *cli) nameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name",
		Short: "Print a flare name suggestion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), naming.Suggest(rand.New(rand.NewSource(time.Now().UnixNano()))))
			return nil
		},
	}
}
