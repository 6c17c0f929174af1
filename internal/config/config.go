package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/maestro/internal/playbook"
)

const (
	DefaultAgentCommand = "claude --dangerously-skip-permissions"
	DefaultAddr         = "127.0.0.1:8742"
)

type Config struct {
	DataDir      string
	DBPath       string
	AgentCommand string
	Addr         string
	LogLevel     slog.Level
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("MAESTRO_DATA_DIR", filepath.Join(homeDir, ".maestro"))

	c := &Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "maestro.db"),
		AgentCommand: getEnv("MAESTRO_AGENT_CMD", DefaultAgentCommand),
		Addr:         getEnv("MAESTRO_ADDR", DefaultAddr),
	}

	level, err := parseLevel(getEnv("MAESTRO_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	c.LogLevel = level

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("MAESTRO_DATA_DIR must not be empty")
	}
	if len(strings.Fields(c.AgentCommand)) == 0 {
		return fmt.Errorf("MAESTRO_AGENT_CMD must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid MAESTRO_ADDR %q: %w", c.Addr, err)
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.PlaybookDir(), c.WorkspacesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// PlaybookDir holds playbooks shared across folders.
func (c *Config) PlaybookDir() string {
	return filepath.Join(c.DataDir, "playbooks")
}

// PlaybookDirs lists search directories for folder, most specific first.
func (c *Config) PlaybookDirs(folder string) []string {
	if folder == "" {
		return []string{c.PlaybookDir()}
	}
	return []string{playbook.Dir(folder), c.PlaybookDir()}
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "maestro.log")
}

// NewLogger returns a text logger for CLI use, or a JSON one when json is
// set.
func (c *Config) NewLogger(w io.Writer, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid MAESTRO_LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
