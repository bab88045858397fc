package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/tutorline/internal/catalog"
	"github.com/zulandar/tutorline/internal/config"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
		schedule   string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the dashboard summary",
		Long: "Prints topic, document and chat counts. With --watch the summary is\n" +
			"refreshed on the dashboard.refresh cron schedule until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, configPath, watch, schedule)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing the summary")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression overriding dashboard.refresh")
	return cmd
}

func runStats(cmd *cobra.Command, configPath string, watch bool, schedule string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if !watch {
			s, err := a.catalog.Summary(ctx)
			if err != nil {
				return err
			}
			return printSummary(out, s)
		}

		if schedule == "" {
			schedule = a.cfg.Dashboard.Refresh
		}
		sched, err := cronParser.Parse(schedule)
		if err != nil {
			return fmt.Errorf("parse schedule %q: %w", schedule, err)
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		return watchSummary(ctx, out, a.catalog, sched, a.log)
	})
}

// watchSummary prints the summary now and again at every tick of sched
// until ctx is done.
func watchSummary(ctx context.Context, out io.Writer, loader *catalog.Loader, sched cron.Schedule, log *zap.Logger) error {
	for {
		s, err := loader.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "--- %s ---\n", time.Now().Format("2006-01-02 15:04:05"))
		if err := printSummary(out, s); err != nil {
			return err
		}

		wait := time.Until(sched.Next(time.Now()))
		log.Debug("next stats refresh", zap.Duration("in", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func printSummary(out io.Writer, s catalog.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Topics:\t%d\n", s.Topics)
	fmt.Fprintf(w, "Documents:\t%d\n", s.Documents)
	fmt.Fprintf(w, "Chats:\t%d\n", s.Chats)
	fmt.Fprintf(w, "This week:\t%d\n", s.Week)
	if err := w.Flush(); err != nil {
		return err
	}
	if s.Degraded {
		fmt.Fprintln(out, "(some counts could not be loaded)")
	}
	return nil
}
