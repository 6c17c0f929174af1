package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/config"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/process"
	"github.com/mpataki/maestro/internal/settings"
	"github.com/mpataki/maestro/internal/storage"
	"github.com/mpataki/maestro/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "maestro",
		Short: "Auto Run for markdown task documents",
		Long:  "Maestro works through the unchecked tasks in a folder of markdown documents, one agent session per task.",
		RunE:  runTUI,
	}
	rootCmd.Flags().StringP("folder", "f", "", "Auto Run folder (default: the autorun.folder setting)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDocsCommand())
	rootCmd.AddCommand(newTasksCommand())
	rootCmd.AddCommand(newToggleCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newPlaybooksCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newSettingsCommand())
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds what every command opens: config, the history database and
// the settings on top of it.
type env struct {
	cfg      *config.Config
	db       *storage.Storage
	settings *settings.Settings
	logger   *slog.Logger
}

func openEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{
		cfg:      cfg,
		db:       db,
		settings: settings.New(db, map[string]string{settings.KeyAgentCommand: cfg.AgentCommand}),
		logger:   cfg.NewLogger(os.Stderr, false),
	}, nil
}

func (e *env) Close() error {
	return e.db.Close()
}

// folder resolves an explicit folder argument, falling back to the saved
// autorun folder.
func (e *env) folder(arg string) (string, error) {
	if arg != "" {
		return filepath.Abs(arg)
	}
	return e.settings.AutorunFolder()
}

// defaults are the run options shared by every entry point.
func (e *env) defaults() (batch.Options, error) {
	agent, err := e.settings.AgentCommand()
	if err != nil {
		return batch.Options{}, err
	}
	return batch.Options{
		AgentCommand: agent,
		WorkspaceDir: e.cfg.WorkspacesDir(),
	}, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	logFile, err := os.OpenFile(e.cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logger := e.cfg.NewLogger(logFile, false)

	if n, err := e.db.MarkInterruptedRuns(); err != nil {
		logger.Warn("failed to mark interrupted runs", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted runs", "count", n)
	}

	flagFolder, _ := cmd.Flags().GetString("folder")
	folder, err := e.folder(flagFolder)
	if err != nil {
		return err
	}
	theme, err := e.settings.Theme()
	if err != nil {
		return err
	}
	shortcuts, err := e.settings.Shortcuts()
	if err != nil {
		return err
	}
	opts, err := e.defaults()
	if err != nil {
		return err
	}

	store := docs.New(folder, logger)
	ctrl := batch.New(store, process.NewManager(logger), e.db, logger)

	app := tui.NewApp(tui.Deps{
		Store:      store,
		Controller: ctrl,
		History:    e.db,
		Options:    opts,
		Shortcuts:  shortcuts,
		Theme:      theme,
		Logger:     logger,
	})
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()

	if ctrl.State().IsRunning {
		fmt.Println("Waiting for the current task to finish...")
		ctrl.Stop()
		ctrl.Wait()
	}
	return err
}

var (
	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	statusStopped  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFCC00"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
	dim            = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render(string(status))
	case models.RunStatusComplete:
		return statusComplete.Render(string(status))
	case models.RunStatusStopped:
		return statusStopped.Render(string(status))
	case models.RunStatusFailed:
		return statusFailed.Render(string(status))
	}
	return string(status)
}

func checkbox(done bool) string {
	if done {
		return statusComplete.Render("[x]")
	}
	return "[ ]"
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
