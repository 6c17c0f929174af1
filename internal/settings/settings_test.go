package settings

import (
	"errors"
	"testing"
)

type memKV map[string]string

func (m memKV) GetSetting(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memKV) SetSetting(key, value string) error {
	m[key] = value
	return nil
}

func (m memKV) DeleteSetting(key string) error {
	delete(m, key)
	return nil
}

func (m memKV) AllSettings() (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func TestDefaultsAndOverrides(t *testing.T) {
	kv := memKV{}
	s := New(kv, map[string]string{KeyAgentCommand: "claude --dangerously-skip-permissions"})

	theme, err := s.Theme()
	if err != nil || theme != ThemeDark {
		t.Fatalf("expected default theme dark, got %q (%v)", theme, err)
	}
	cmd, _ := s.AgentCommand()
	if len(cmd) != 2 || cmd[0] != "claude" {
		t.Fatalf("expected default agent command, got %v", cmd)
	}

	if err := s.Set(KeyAgentCommand, "  codex exec "); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if kv[KeyAgentCommand] != "codex exec" {
		t.Errorf("expected trimmed command stored, got %q", kv[KeyAgentCommand])
	}
	cmd, _ = s.AgentCommand()
	if len(cmd) != 2 || cmd[0] != "codex" {
		t.Errorf("expected override, got %v", cmd)
	}

	if _, ok, _ := s.Get("missing"); ok {
		t.Error("expected missing key to be reported absent")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		key, value string
		want       string
		wantErr    bool
	}{
		{KeyTheme, "Light", "light", false},
		{KeyTheme, "solarized", "", true},
		{KeyAgentCommand, "   ", "", true},
		{"shortcut.stop", "ctrl+s", "ctrl+s", false},
		{"shortcut.stop", "Ctrl+S", "ctrl+s", false},
		{"shortcut.help", "?, f1", "?,f1", false},
		{"shortcut.toggle", "space", " ", false},
		{"shortcut.zoom", "ctrl++", "ctrl++", false},
		{"shortcut.quit", "hyper+q", "", true},
		{"shortcut.quit", "ctrl+", "", true},
		{"shortcut.quit", "enterr", "", true},
		{"shortcut.", "q", "", true},
		{"custom.key", "anything", "anything", false},
		{"", "x", "", true},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.key, tt.value)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Normalize(%q, %q): expected ErrInvalidValue, got %v", tt.key, tt.value, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q, %q): unexpected error %v", tt.key, tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q, %q): expected %q, got %q", tt.key, tt.value, tt.want, got)
		}
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	kv := memKV{}
	s := New(kv, nil)
	if err := s.Set(KeyTheme, "neon"); err == nil {
		t.Fatal("expected error for invalid theme")
	}
	if _, ok := kv[KeyTheme]; ok {
		t.Error("invalid value should not be stored")
	}
}

func TestShortcuts(t *testing.T) {
	kv := memKV{"shortcut.stop": "ctrl+x,s", "shortcut.help": "???", KeyTheme: "light"}
	s := New(kv, nil)

	sc, err := s.Shortcuts()
	if err != nil {
		t.Fatalf("Shortcuts failed: %v", err)
	}
	if len(sc) != 1 {
		t.Fatalf("expected only the valid shortcut, got %v", sc)
	}
	if got := sc["stop"]; len(got) != 2 || got[0] != "ctrl+x" || got[1] != "s" {
		t.Errorf("expected [ctrl+x s], got %v", got)
	}
}

func TestAllMergesDefaults(t *testing.T) {
	s := New(memKV{KeyAutorunFolder: "/work"}, map[string]string{KeyAgentCommand: "claude"})
	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if all[KeyAutorunFolder] != "/work" || all[KeyAgentCommand] != "claude" || all[KeyTheme] != ThemeDark {
		t.Errorf("unexpected merged settings %v", all)
	}
}
