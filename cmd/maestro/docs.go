package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/playbook"
	"github.com/mpataki/maestro/internal/tasks"
)

// openStore opens the document store for folder with the shared env.
func openStore(folder string) (*env, *docs.Store, error) {
	e, err := openEnv()
	if err != nil {
		return nil, nil, err
	}
	path, err := e.folder(folder)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	store := docs.New(path, e.logger)
	if err := store.Configured(); err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, store, nil
}

func newDocsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "docs <folder>",
		Short: "List documents and their progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			names, err := store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No documents found.")
				return nil
			}

			for _, name := range names {
				doc, err := store.Load(name)
				if err != nil {
					fmt.Printf("%-40s %s\n", name, statusFailed.Render(err.Error()))
					continue
				}
				completed, total := doc.Counts()
				fmt.Printf("%-40s %d/%d\n", name, completed, total)
			}
			return nil
		},
	}
}

func newTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <folder> <document>",
		Short: "List a document's tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			doc, err := store.Load(args[1])
			if err != nil {
				return err
			}
			if len(doc.Tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}
			for i, t := range doc.Tasks {
				fmt.Printf("%3d %s %s\n", i+1, checkbox(t.Done), t.Text)
			}
			return nil
		},
	}
}

func newToggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <folder> <document> <task-number>",
		Short: "Check or uncheck a task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid task number: %w", err)
			}

			e, store, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			doc, err := store.Update(args[1], func(l *tasks.List) error {
				return l.Toggle(n - 1)
			})
			if err != nil {
				return err
			}

			t := doc.Tasks[n-1]
			fmt.Printf("%s %s\n", checkbox(t.Done), t.Text)
			return nil
		},
	}
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <folder> <document>",
		Short: "Uncheck every task in a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			var n int
			doc, err := store.Update(args[1], func(l *tasks.List) error {
				n = l.ResetAll()
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d task(s) in %s\n", n, doc.Filename)
			return nil
		},
	}
}

func newPlaybooksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "playbooks <folder>",
		Short: "List playbooks available to a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, store, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			playbooks, err := playbook.LoadAll(e.cfg.PlaybookDirs(store.Folder()))
			if err != nil {
				return fmt.Errorf("failed to load playbooks: %w", err)
			}
			if len(playbooks) == 0 {
				fmt.Println("No playbooks found.")
				return nil
			}

			names := make([]string, 0, len(playbooks))
			for name := range playbooks {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				pb := playbooks[name]
				line := fmt.Sprintf("%s (%d documents", name, len(pb.Documents))
				if pb.Loop {
					line += ", loop"
				}
				line += ")"
				if err := playbook.Validate(pb, store); err != nil {
					line += " " + statusFailed.Render(err.Error())
				}
				fmt.Println(line)
				if pb.Description != "" {
					fmt.Printf("  %s\n", dim.Render(pb.Description))
				}
			}
			return nil
		},
	}
}
