// Package playbook loads saved Auto Run queue configurations from YAML.
package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
	"gopkg.in/yaml.v3"
)

// Dir is where a folder keeps its own playbooks.
func Dir(folder string) string {
	return filepath.Join(folder, ".maestro", "playbooks")
}

func Parse(path string) (*models.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file: %w", err)
	}

	var pb models.Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook YAML: %w", err)
	}
	pb.Path = path

	if pb.Name == "" {
		base := filepath.Base(path)
		pb.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	for _, e := range pb.Documents {
		if e != nil {
			e.Filename = docs.Normalize(e.Filename)
		}
	}

	return &pb, nil
}

// LoadAll reads playbooks from dirs in order. Later directories do not
// override names already loaded.
func LoadAll(dirs []string) (map[string]*models.Playbook, error) {
	playbooks := make(map[string]*models.Playbook)

	for _, dir := range dirs {
		if err := loadFromDir(dir, playbooks); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return playbooks, nil
}

func loadFromDir(dir string, playbooks map[string]*models.Playbook) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		pb, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if _, exists := playbooks[pb.Name]; !exists {
			playbooks[pb.Name] = pb
		}
	}

	return nil
}

// Validate checks a playbook against the documents available in store.
// A nil store skips the existence check.
func Validate(pb *models.Playbook, store *docs.Store) error {
	if pb.Name == "" {
		return fmt.Errorf("playbook must have a name")
	}

	if len(pb.Documents) == 0 {
		return fmt.Errorf("playbook must list at least one document")
	}

	if pb.MaxLoops < 0 {
		return fmt.Errorf("max_loops must not be negative")
	}

	var available map[string]bool
	if store != nil {
		names, err := store.List()
		if err != nil {
			return err
		}
		available = make(map[string]bool, len(names))
		for _, n := range names {
			available[n] = true
		}
	}

	seen := make(map[string]bool)
	for _, e := range pb.Documents {
		if e == nil || e.Filename == "" || e.Filename == docs.Ext {
			return fmt.Errorf("document entry must have a filename")
		}
		if seen[e.Filename] {
			return fmt.Errorf("document %q listed twice", e.Filename)
		}
		seen[e.Filename] = true

		if available != nil && !available[e.Filename] {
			return fmt.Errorf("document %q not found in %s", e.Filename, store.Folder())
		}
	}

	if pb.PromptScript != "" && filepath.Ext(pb.PromptScript) != ".lua" {
		return fmt.Errorf("prompt_script %q must be a .lua file", pb.PromptScript)
	}

	return nil
}

// Save writes the playbook as <dir>/<name>.yaml.
func Save(dir string, pb *models.Playbook) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create playbook directory: %w", err)
	}

	data, err := yaml.Marshal(pb)
	if err != nil {
		return "", fmt.Errorf("failed to marshal playbook: %w", err)
	}

	path := filepath.Join(dir, pb.Name+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write playbook: %w", err)
	}
	pb.Path = path
	return path, nil
}

// ResolveScript makes a relative prompt_script path relative to the
// playbook file.
func ResolveScript(pb *models.Playbook) string {
	if pb.PromptScript == "" || filepath.IsAbs(pb.PromptScript) || pb.Path == "" {
		return pb.PromptScript
	}
	return filepath.Join(filepath.Dir(pb.Path), pb.PromptScript)
}
