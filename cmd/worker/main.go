package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"course-credentials/internal/config"
	"course-credentials/internal/logging"
	"course-credentials/internal/observability"
)

const (
	programName = "course-credentials"
	version     = "dev"
)

var globalFlags = struct {
	envFile string
	asOf    string
	metrics bool
}{}

// env is what every subcommand needs: config, logger and a tracing shutdown.
type env struct {
	cfg      config.Config
	log      zerolog.Logger
	shutdown func(context.Context) error
}

func commonRun(ctx context.Context) (*env, error) {
	if globalFlags.envFile != "" {
		if err := godotenv.Load(globalFlags.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", globalFlags.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg).With().Str("component", programName).Logger()
	shutdown, err := observability.SetupTracing(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return &env{cfg: cfg, log: log, shutdown: shutdown}, nil
}

func (e *env) close() {
	if err := e.shutdown(context.Background()); err != nil {
		e.log.Warn().Err(err).Msg("tracing shutdown")
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Issue course certificates and assignment due dates from CRM records",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), "")
		},
	}
	rootCmd.PersistentFlags().StringVar(&globalFlags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&globalFlags.asOf, "as-of", "", "run date as YYYY-MM-DD (default today, UTC)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.metrics, "metrics", false, "serve prometheus metrics on METRICS_ADDR while running")

	rootCmd.AddCommand(
		allCommand(),
		certificatesCommand(),
		dueDatesCommand(),
		lookupCommand(),
		migrateCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
