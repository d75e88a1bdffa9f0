package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dnsscanner/internal/database"
	"dnsscanner/internal/domain"
	"dnsscanner/internal/supervisor"
	"dnsscanner/internal/support"
)

func newScanCommand(env *environment, v *viper.Viper) *cobra.Command {
	v.SetDefault("MODE", string(supervisor.ModeManual))

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe and resolve a span of addresses, or let the scheduler pick ranges",
		Example: `  dnsscanner scan --mode manual --from 134.233.12.0 --to 134.233.12.255
  dnsscanner scan --mode automatic --restart`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), env,
				v.GetString("MODE"),
				v.GetString("FROM"),
				v.GetString("TO"),
				v.GetBool("RESTART"),
			)
		},
	}

	flags := cmd.Flags()
	flags.String("mode", string(supervisor.ModeManual), "Scan mode (manual|automatic)")
	flags.String("from", "", "First address of the span (manual mode)")
	flags.String("to", "", "Last address of the span (manual mode)")
	flags.Bool("restart", false, "Keep scanning automatically selected ranges after the span finishes")
	_ = v.BindPFlag("MODE", flags.Lookup("mode"))
	_ = v.BindPFlag("FROM", flags.Lookup("from"))
	_ = v.BindPFlag("TO", flags.Lookup("to"))
	_ = v.BindPFlag("RESTART", flags.Lookup("restart"))

	return cmd
}

func runScan(ctx context.Context, env *environment, mode, from, to string, restart bool) error {
	// Reject bad arguments before any connection is opened.
	if _, err := supervisor.ParseRequest(mode, from, to, restart); err != nil {
		return err
	}

	cfg, err := env.settings()
	if err != nil {
		return err
	}

	store, closeStore, err := env.store()
	if err != nil {
		return err
	}
	defer closeStore()

	executor, closeExecutor, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	defer closeExecutor()

	supervisorOpts := []supervisor.Option{
		supervisor.WithCatalogBounds(int(cfg.Scheduler.MaxFirstOctet), int(cfg.Scheduler.MaxSecondOctet)),
		supervisor.WithRestartDelay(cfg.RestartDelay()),
		supervisor.WithRescanDelay(cfg.RescanDelay()),
		supervisor.WithMaxRestarts(int(cfg.Supervisor.MaxRestarts)),
		supervisor.WithCheckpointEvery(int(cfg.Supervisor.CheckpointEvery)),
	}
	if client := env.redis(ctx); client != nil {
		defer client.Close()
		supervisorOpts = append(supervisorOpts,
			supervisor.WithCheckpointer(newCheckpoints(client)),
			supervisor.WithLeaderElection(func(ctx context.Context, fn func(context.Context) error) error {
				return support.RunWithLeader(ctx, client, leaderKey, support.DefaultLeadershipTTL, fn)
			}),
		)
	}

	sup := supervisor.New(executor, store, newScheduler(cfg, store), supervisorOpts...)
	engine := supervisor.NewEngine(sup)

	restart = restart || cfg.Supervisor.RestartOnFinish
	log.Info("Scanner starting",
		"mode", mode,
		"concurrency", executor.Concurrency(),
		"restartOnFinish", restart,
	)
	return engine.Run(ctx, mode, from, to, restart)
}

func newCountCommand(env *environment) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count stored scan records, optionally inside a span",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher := database.Matcher{}
			if from != "" || to != "" {
				span, err := domain.ParseSpan(from, to)
				if err != nil {
					return &supervisor.ConfigurationError{Field: "span", Err: err}
				}
				if !span.Valid() {
					return &supervisor.ConfigurationError{Field: "span", Err: fmt.Errorf("start %s is after end %s", span.Start, span.End)}
				}
				matcher = database.MatchRange(domain.AddressRange{Start: span.Start, End: span.End, Label: span.String()})
			}

			store, closeStore, err := env.store()
			if err != nil {
				return err
			}
			defer closeStore()

			return printCounts(cmd.Context(), cmd.OutOrStdout(), store, matcher)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First address of the span to count")
	cmd.Flags().StringVar(&to, "to", "", "Last address of the span to count")
	return cmd
}

func printCounts(ctx context.Context, out io.Writer, store *database.Store, matcher database.Matcher) error {
	total, err := store.CountRecords(ctx, matcher)
	if err != nil {
		return err
	}
	reachable, err := store.CountReachable(ctx, matcher)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "records: %d\nreachable: %d\n", total, reachable)
	return nil
}

func newRangesCommand(env *environment) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ranges",
		Short: "List ranges in the order the scheduler would scan them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.settings()
			if err != nil {
				return err
			}

			store, closeStore, err := env.store()
			if err != nil {
				return err
			}
			defer closeStore()

			recency, err := newScheduler(cfg, store).Recency(cmd.Context(),
				int(cfg.Scheduler.MaxFirstOctet), int(cfg.Scheduler.MaxSecondOctet))
			if err != nil {
				return err
			}
			if limit > 0 && limit < len(recency) {
				recency = recency[:limit]
			}

			out := cmd.OutOrStdout()
			for _, item := range recency {
				last := "never"
				if item.Scanned() {
					last = item.LastScanAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s\t%s\n", item.Range.Label, last)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of ranges to print (0 prints all)")
	return cmd
}
