package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpataki/maestro/internal/storage"
	"github.com/mpataki/maestro/internal/workspace"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.db.ListBatchRuns(limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("#%d %s [%s] %d/%d %s\n",
					run.ID, storage.FormatTimeAgo(run.StartedAt), formatStatus(run.Status),
					run.CompletedTasks, run.TotalTasks,
					truncate(strings.Join(run.Documents, ", "), 50))
			}

			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its task executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			run, err := e.db.GetBatchRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d\n", run.ID)
			fmt.Printf("Status: %s\n", formatStatus(run.Status))
			fmt.Printf("Folder: %s\n", run.Folder)
			fmt.Printf("Documents: %s\n", strings.Join(run.Documents, ", "))
			fmt.Printf("Tasks: %d/%d\n", run.CompletedTasks, run.TotalTasks)
			fmt.Printf("Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Printf("Finished: %s (%s)\n", run.CompletedAt.Format("2006-01-02 15:04:05"),
					run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
			}
			if run.LoopEnabled {
				fmt.Printf("Loops: %d\n", run.LoopIteration)
			}
			if run.WorkspacePath != "" {
				fmt.Printf("Workspace: %s\n", run.WorkspacePath)
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			execs, err := e.db.GetTaskExecutionsForRun(runID)
			if err != nil {
				return err
			}

			if len(execs) > 0 {
				fmt.Println("\nExecutions:")
				for i, exec := range execs {
					outcome := string(exec.Outcome)
					if exec.ExitCode != nil {
						outcome += fmt.Sprintf(" (exit %d)", *exec.ExitCode)
					}
					fmt.Printf("  %d. %s: %s [%s]\n", i+1, exec.Document, truncate(exec.TaskText, 50), outcome)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.db.GetBatchRun(runID); err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			ws, err := workspace.Open(e.cfg.WorkspacesDir(), runID)
			switch {
			case err == nil:
				if err := ws.Remove(); err != nil {
					return fmt.Errorf("failed to remove workspace: %w", err)
				}
			case !errors.Is(err, os.ErrNotExist):
				return fmt.Errorf("failed to open workspace: %w", err)
			}

			if err := e.db.DeleteBatchRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}
