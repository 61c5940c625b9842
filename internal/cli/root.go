// Package cli implements the taskmem command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/taskmem/config"
)

type envKey struct{}

// env is the resolved configuration shared by every subcommand.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func withEnv(ctx context.Context, e *env) context.Context {
	return context.WithValue(ctx, envKey{}, e)
}

func envFrom(ctx context.Context) *env {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok {
		panic("cli: command context has no configuration")
	}
	return e
}

// NewRootCmd builds the taskmem command tree.
func NewRootCmd(version string) *cobra.Command {
	var (
		configPath string
		envFile    string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "taskmem",
		Short:         "Role-scoped task queue with semantic memory retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			level, _ := config.ParseLevel(cfg.LogLevel)
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(withEnv(ctx, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file (missing file is ignored)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env: TASKMEM_LOG_LEVEL)")

	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newWorkerCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}
	return cmd
}
