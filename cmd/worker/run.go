package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"course-credentials/internal/app"
	"course-credentials/internal/telemetry"
	"course-credentials/internal/worker"
)

func allCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Issue certificates, then assign due dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), "")
		},
	}
}

func certificatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   worker.JobCertificates,
		Short: "Issue certificates for eligible records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), worker.JobCertificates)
		},
	}
}

func dueDatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   worker.JobDueDates,
		Short: "Assign due dates for upcoming sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), worker.JobDueDates)
		},
	}
}

func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// runJobs runs one job, or every job when job is empty.
func runJobs(ctx context.Context, job string) error {
	asOf, err := parseAsOf(globalFlags.asOf)
	if err != nil {
		return err
	}
	e, err := commonRun(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if globalFlags.metrics {
		srv := &http.Server{Addr: e.cfg.MetricsAddr, Handler: telemetry.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	a, err := app.New(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer a.Close()

	e.log.Info().Str("as_of", asOf.Format("2006-01-02")).Str("job", job).Msg("worker started")
	if job == "" {
		_, err = a.Processor.RunAll(ctx, asOf)
		return err
	}
	_, err = a.Processor.RunJob(ctx, job, asOf)
	return err
}
