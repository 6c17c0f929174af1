package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/playbook"
	"github.com/mpataki/maestro/internal/process"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <folder> [documents...]",
		Short: "Run the unchecked tasks in a folder's documents",
		Long: "Run works through the documents in order, spawning one agent session per unchecked task.\n" +
			"With no documents named, every document in the folder is queued.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, _ := cmd.Flags().GetBool("loop")
			maxLoops, _ := cmd.Flags().GetInt("max-loops")
			resets, _ := cmd.Flags().GetStringSlice("reset")
			pbName, _ := cmd.Flags().GetString("playbook")
			prompt, _ := cmd.Flags().GetString("prompt")
			promptScript, _ := cmd.Flags().GetString("prompt-script")
			agent, _ := cmd.Flags().GetString("agent")
			usePTY, _ := cmd.Flags().GetBool("pty")
			worktree, _ := cmd.Flags().GetString("worktree")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			folder, err := e.folder(args[0])
			if err != nil {
				return err
			}
			store := docs.New(folder, e.logger)
			if err := store.Configured(); err != nil {
				return err
			}

			opts, err := e.defaults()
			if err != nil {
				return err
			}
			opts.Loop = loop
			opts.MaxLoops = maxLoops
			opts.Prompt = prompt
			opts.PromptScript = promptScript
			opts.PTY = usePTY
			opts.Worktree = worktree
			if agent != "" {
				opts.AgentCommand = strings.Fields(agent)
			}

			var queue []batch.QueueEntry
			if pbName != "" {
				playbooks, err := playbook.LoadAll(e.cfg.PlaybookDirs(store.Folder()))
				if err != nil {
					return fmt.Errorf("failed to load playbooks: %w", err)
				}
				pb, ok := playbooks[pbName]
				if !ok {
					return fmt.Errorf("playbook %q not found", pbName)
				}
				if err := playbook.Validate(pb, store); err != nil {
					return err
				}
				queue, opts = batch.FromPlaybook(pb, opts)
			} else {
				names := args[1:]
				if len(names) == 0 {
					if names, err = store.List(); err != nil {
						return err
					}
				}
				queue = batch.QueueFromNames(names, resets)
			}

			procs := process.NewManager(e.logger)
			ctrl := batch.New(store, procs, e.db, e.logger)
			return runBatch(cmd, ctrl, procs, queue, opts)
		},
	}

	cmd.Flags().Bool("loop", false, "Restart the queue after a pass that completes every document")
	cmd.Flags().Int("max-loops", 0, "Stop looping after this many restarts (0: until stopped)")
	cmd.Flags().StringSlice("reset", nil, "Uncheck this document's tasks once it completes (repeatable)")
	cmd.Flags().StringP("playbook", "p", "", "Run a saved playbook instead of listing documents")
	cmd.Flags().String("prompt", "", "Prompt template ({TASK}, {DOCUMENT_NAME}, ...)")
	cmd.Flags().String("prompt-script", "", "Lua script that builds the prompt")
	cmd.Flags().String("agent", "", "Agent command (default: the agent.command setting)")
	cmd.Flags().Bool("pty", false, "Run agents in a pseudo-terminal")
	cmd.Flags().String("worktree", "", "Run agents in a git worktree of this repository")
	return cmd
}

// runBatch starts the run and prints events until it finishes. The first
// interrupt asks for a cooperative stop, the second kills running sessions
// and exits.
func runBatch(cmd *cobra.Command, ctrl *batch.Controller, procs *process.Manager, queue []batch.QueueEntry, opts batch.Options) error {
	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := ctrl.Start(cmd.Context(), queue, opts); err != nil {
		if errors.Is(err, batch.ErrEmptyQueue) {
			return fmt.Errorf("no documents to run")
		}
		return fmt.Errorf("failed to start run: %w", err)
	}

	interrupts := 0
	for {
		select {
		case ev := <-events:
			printEvent(ev)
			if ev.Type == batch.EventRunFinished {
				return printSummary(ctrl)
			}

		case <-sigs:
			interrupts++
			if interrupts > 1 {
				for _, info := range procs.List() {
					if info.Running {
						procs.Kill(info.ID)
					}
				}
				fmt.Println("Interrupted.")
				os.Exit(130)
			}
			fmt.Println("Stopping after the current task (interrupt again to exit)...")
			ctrl.Stop()

		case <-ctrl.Done():
			// run_finished may have been dropped
			return printSummary(ctrl)
		}
	}
}

func printEvent(ev batch.Event) {
	s := ev.State
	progress := dim.Render(fmt.Sprintf("[%d/%d]", s.CompletedTasks, s.TotalTasks))

	switch ev.Type {
	case batch.EventRunStarted:
		fmt.Printf("Started run #%d over %d document(s)\n", s.RunID, len(s.Documents))
	case batch.EventDocumentStarted:
		fmt.Printf("%s %s\n", progress, ev.Document)
	case batch.EventTaskStarted:
		fmt.Printf("%s   > %s\n", progress, truncate(ev.Task, 70))
	case batch.EventTaskFinished:
		code := "?"
		if ev.ExitCode != nil {
			code = fmt.Sprint(*ev.ExitCode)
		}
		fmt.Printf("%s   %s %s\n", progress, statusComplete.Render("done"), dim.Render("exit "+code))
	case batch.EventNoProgress:
		fmt.Printf("%s   %s no task was checked off, moving on\n", progress, statusStopped.Render("!"))
	case batch.EventSpawnFailed:
		fmt.Printf("%s   %s %s\n", progress, statusFailed.Render("spawn failed:"), ev.Error)
	case batch.EventDocumentError:
		fmt.Printf("%s %s %s: %s\n", progress, statusFailed.Render("skipped"), ev.Document, ev.Error)
	case batch.EventDocumentCompleted:
		fmt.Printf("%s %s %s\n", progress, statusComplete.Render("completed"), ev.Document)
	case batch.EventDocumentReset:
		fmt.Printf("%s reset %s\n", progress, ev.Document)
	case batch.EventLoopRestarted:
		fmt.Printf("Loop %d\n", s.LoopIteration)
	case batch.EventStopping:
		fmt.Println(statusStopped.Render("Stopping..."))
	}
}

func printSummary(ctrl *batch.Controller) error {
	last := ctrl.Last()
	fmt.Printf("Run #%d finished: %d/%d tasks", last.RunID, last.CompletedTasks, last.TotalTasks)
	if last.LoopEnabled {
		fmt.Printf(", %d loop(s)", last.LoopIteration)
	}
	fmt.Println()
	return nil
}
