package models

type Playbook struct {
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description,omitempty"`
	Documents    []*PlaybookEntry `yaml:"documents"`
	Loop         bool             `yaml:"loop,omitempty"`
	MaxLoops     int              `yaml:"max_loops,omitempty"`
	Prompt       string           `yaml:"prompt,omitempty"`
	PromptScript string           `yaml:"prompt_script,omitempty"`
	Worktree     string           `yaml:"worktree,omitempty"`

	// Path is the file the playbook was loaded from.
	Path string `yaml:"-"`
}

type PlaybookEntry struct {
	Filename          string `yaml:"filename"`
	ResetOnCompletion bool   `yaml:"reset_on_completion,omitempty"`
}
