package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnwatch/hnwatch/internal/app"
	"github.com/hnwatch/hnwatch/internal/clock/system"
	"github.com/hnwatch/hnwatch/internal/harvest"
	"github.com/hnwatch/hnwatch/internal/hn"
	"github.com/hnwatch/hnwatch/internal/hn/extract"
	"github.com/hnwatch/hnwatch/internal/hn/fetch"
	"github.com/hnwatch/hnwatch/internal/scheduler"
)

// newHarvestCmd creates the 'harvest' subcommand, which performs a
// single fetch-and-commit cycle and exits.
func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Runs one harvest cycle and exits",
		Long: `Fetches the configured number of listing pages, reconciles the
observations into the ledger under a single snapshot moment, and exits.
Useful for cron-driven deployments and smoke testing.`,

		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	sched, err := buildScheduler(appInstance)
	if err != nil {
		return err
	}

	if err := sched.RunOnce(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}

	appInstance.Logger.Info("harvest finished")
	return nil
}

// buildScheduler assembles the fetch pipeline and wraps it in a
// scheduler so both one-shot and periodic callers share the same
// single-flight gate.
func buildScheduler(a *app.App) (*scheduler.Scheduler, error) {
	harvest.InitMetrics()

	cfg := a.Config
	extractor := extract.New(hn.ItemsPerPage)
	fetcher := fetch.New(fetch.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.HTTPTimeout(),
		RateLimitRPS: cfg.Harvest.RateLimitRPS,
	}, extractor)

	orchestrator := harvest.New(
		harvest.Config{
			PageCount:       cfg.Harvest.PageCount,
			FirstPageCutoff: cfg.Harvest.FirstPageCutoff,
			Concurrency:     cfg.Harvest.Concurrency,
			RetryLimit:      cfg.Harvest.RetryLimit,
			BackoffBase:     cfg.BackoffBase(),
		},
		fetcher,
		harvest.NewExponentialRetryPolicy(cfg.Harvest.RetryLimit, cfg.BackoffBase()),
		system.New(),
		a.Logger.Named("harvest"),
	)

	return scheduler.New(
		orchestrator,
		a.Store,
		a.Publisher,
		cfg.HarvestInterval(),
		a.Logger.Named("scheduler"),
	), nil
}
