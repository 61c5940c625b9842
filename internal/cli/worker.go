package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/taskmem/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run task consumers",
	}
	cmd.AddCommand(newWorkerRunCmd())
	return cmd
}

func newWorkerRunCmd() *cobra.Command {
	var (
		role     string
		interval time.Duration
		results  int
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Claim tasks for a role and complete them with retrieved memory context",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd.Context())
			if role == "" {
				role = e.cfg.Worker.Role
			}
			if role == "" {
				return fmt.Errorf("--role is required (or worker.role in config)")
			}
			if interval <= 0 {
				interval = e.cfg.Worker.Interval
			}
			if results <= 0 {
				results = e.cfg.Worker.Results
			}

			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			mem, err := openMemory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = mem.Close() }()

			w := &worker.Worker{
				Store:    st,
				Role:     role,
				Handler:  worker.ContextHandler(mem, results),
				Interval: interval,
				Logger:   e.logger,
			}
			if !once {
				return w.Run(cmd.Context())
			}

			processed := 0
			for {
				ok, err := w.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				processed++
			}
			e.logger.Info("queue drained", slog.String("role", role), slog.Int("processed", processed))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Processed %d task(s)\n", processed)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role to consume (env: TASKMEM_WORKER_ROLE)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default: worker.interval)")
	cmd.Flags().IntVar(&results, "results", 0, "Memory matches per task (default: worker.results)")
	cmd.Flags().BoolVar(&once, "once", false, "Drain the queue once and exit")
	return cmd
}
