package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/taskmem/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskNextCmd())
	cmd.AddCommand(newTaskClaimCmd())
	cmd.AddCommand(newTaskUpdateCmd())
	cmd.AddCommand(newTaskGetCmd())
	cmd.AddCommand(newTaskCompletedCmd())
	cmd.AddCommand(newTaskListCmd())
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a PENDING task for a role",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			id, err := st.Create(cmd.Context(), strings.Join(args, " "), role)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role that should pick up the task")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// newTaskNextCmd peeks without claiming; see `task claim`.
func newTaskNextCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the oldest PENDING task for a role without claiming it",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			t, err := st.FetchNext(cmd.Context(), role)
			if err != nil {
				return err
			}
			return printTask(cmd, t)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newTaskClaimCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Atomically move the oldest PENDING task for a role to PROCESSING",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			t, err := st.ClaimNext(cmd.Context(), role)
			if err != nil {
				return err
			}
			return printTask(cmd, t)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newTaskUpdateCmd() *cobra.Command {
	var (
		id     int64
		status string
		result string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Set a task's status and result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			s := task.Status(strings.ToUpper(status))
			if err := st.UpdateStatus(cmd.Context(), id, s, result); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d is now %s\n", id, s)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Task ID")
	cmd.Flags().StringVar(&status, "status", "", "PENDING, PROCESSING, COMPLETED or FAILED")
	cmd.Flags().StringVar(&result, "result", "", "Result text")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newTaskGetCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			t, err := st.Get(cmd.Context(), id)
			if errors.Is(err, task.ErrNotFound) {
				return fmt.Errorf("task %d not found", id)
			}
			if err != nil {
				return err
			}
			return printTask(cmd, t)
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newTaskCompletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completed",
		Short: "List COMPLETED tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := st.ListCompleted(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nonNil(tasks))
		},
	}
}

func newTaskListCmd() *cobra.Command {
	var (
		status string
		role   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := task.Filter{AgentRole: role, Limit: limit, Offset: offset}
			if status != "" {
				s := task.Status(strings.ToUpper(status))
				if !s.Valid() {
					return fmt.Errorf("--status %q is not a task status", status)
				}
				filter.Status = &s
			}

			st, err := openTasks(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nonNil(tasks))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only tasks with this status")
	cmd.Flags().StringVar(&role, "role", "", "Only tasks for this role")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	return cmd
}

func printTask(cmd *cobra.Command, t *task.Task) error {
	if t == nil {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No pending task")
		return nil
	}
	return printJSON(cmd.OutOrStdout(), t)
}

func nonNil(tasks []*task.Task) []*task.Task {
	if tasks == nil {
		return []*task.Task{}
	}
	return tasks
}
