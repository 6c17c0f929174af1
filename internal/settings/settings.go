// Package settings layers typed accessors and validation over the
// key/value store.
package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	KeyAutorunFolder = "autorun.folder"
	KeyAgentCommand  = "agent.command"
	KeyTheme         = "ui.theme"

	ShortcutPrefix = "shortcut."
)

const (
	ThemeDark  = "dark"
	ThemeLight = "light"
)

var ErrInvalidValue = errors.New("invalid setting value")

// KV is the raw store. storage.Storage implements it.
type KV interface {
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
	DeleteSetting(key string) error
	AllSettings() (map[string]string, error)
}

type Settings struct {
	kv       KV
	defaults map[string]string
}

// New wraps kv. defaults supplies values reported for unset keys.
func New(kv KV, defaults map[string]string) *Settings {
	d := map[string]string{KeyTheme: ThemeDark}
	for k, v := range defaults {
		d[k] = v
	}
	return &Settings{kv: kv, defaults: d}
}

// Get returns the stored value, falling back to the default. ok is false
// when neither exists.
func (s *Settings) Get(key string) (string, bool, error) {
	v, ok, err := s.kv.GetSetting(key)
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	if ok {
		return v, true, nil
	}
	v, ok = s.defaults[key]
	return v, ok, nil
}

// Set validates known keys and stores the value. Unknown keys are stored
// as given.
func (s *Settings) Set(key, value string) error {
	value, err := Normalize(key, value)
	if err != nil {
		return err
	}
	if err := s.kv.SetSetting(key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Settings) Delete(key string) error {
	return s.kv.DeleteSetting(key)
}

// All returns stored values merged over defaults.
func (s *Settings) All() (map[string]string, error) {
	stored, err := s.kv.AllSettings()
	if err != nil {
		return nil, err
	}
	all := make(map[string]string, len(stored)+len(s.defaults))
	for k, v := range s.defaults {
		all[k] = v
	}
	for k, v := range stored {
		all[k] = v
	}
	return all, nil
}

func (s *Settings) AutorunFolder() (string, error) {
	v, _, err := s.Get(KeyAutorunFolder)
	return v, err
}

// AgentCommand returns the agent command split into words.
func (s *Settings) AgentCommand() ([]string, error) {
	v, _, err := s.Get(KeyAgentCommand)
	if err != nil {
		return nil, err
	}
	return strings.Fields(v), nil
}

func (s *Settings) Theme() (string, error) {
	v, _, err := s.Get(KeyTheme)
	if err != nil {
		return ThemeDark, err
	}
	return v, nil
}

// Shortcuts returns overridden key chords by action name.
func (s *Settings) Shortcuts() (map[string][]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for k, v := range all {
		action, ok := strings.CutPrefix(k, ShortcutPrefix)
		if !ok || action == "" {
			continue
		}
		chords, err := ParseChords(v)
		if err != nil {
			continue
		}
		out[action] = chords
	}
	return out, nil
}

// Normalize validates value for key and returns its canonical form.
func Normalize(key, value string) (string, error) {
	switch {
	case key == "":
		return "", fmt.Errorf("%w: empty key", ErrInvalidValue)
	case key == KeyAutorunFolder:
		if value == "" {
			return "", nil
		}
		abs, err := filepath.Abs(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		return abs, nil
	case key == KeyAgentCommand:
		if len(strings.Fields(value)) == 0 {
			return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidValue, key)
		}
		return strings.TrimSpace(value), nil
	case key == KeyTheme:
		v := strings.ToLower(strings.TrimSpace(value))
		if v != ThemeDark && v != ThemeLight {
			return "", fmt.Errorf("%w: %s must be %s or %s", ErrInvalidValue, key, ThemeDark, ThemeLight)
		}
		return v, nil
	case strings.HasPrefix(key, ShortcutPrefix):
		if key == ShortcutPrefix {
			return "", fmt.Errorf("%w: shortcut needs an action name", ErrInvalidValue)
		}
		chords, err := ParseChords(value)
		if err != nil {
			return "", err
		}
		return strings.Join(chords, ","), nil
	}
	return value, nil
}

var modifiers = map[string]bool{"ctrl": true, "alt": true, "shift": true}

var namedKeys = map[string]bool{
	"enter": true, "esc": true, "tab": true, "space": true, "backspace": true,
	"delete": true, "up": true, "down": true, "left": true, "right": true,
	"home": true, "end": true, "pgup": true, "pgdown": true, "insert": true,
	"f1": true, "f2": true, "f3": true, "f4": true, "f5": true, "f6": true,
	"f7": true, "f8": true, "f9": true, "f10": true, "f11": true, "f12": true,
}

// ParseChords parses a comma-separated list of key chords such as
// "ctrl+s,alt+enter,?" into bubbletea key strings.
func ParseChords(value string) ([]string, error) {
	var chords []string
	for _, part := range strings.Split(value, ",") {
		chord := strings.TrimSpace(part)
		if chord == "" {
			continue
		}
		norm, err := parseChord(chord)
		if err != nil {
			return nil, err
		}
		chords = append(chords, norm)
	}
	if len(chords) == 0 {
		return nil, fmt.Errorf("%w: empty key chord", ErrInvalidValue)
	}
	return chords, nil
}

func parseChord(chord string) (string, error) {
	// "+" on its own or as the final key ("ctrl++") is the plus key
	var key string
	rest := chord
	if strings.HasSuffix(chord, "++") || chord == "+" {
		key = "+"
		rest = strings.TrimSuffix(strings.TrimSuffix(chord, "+"), "+")
	} else {
		i := strings.LastIndex(chord, "+")
		key = chord[i+1:]
		if i >= 0 {
			rest = chord[:i]
		} else {
			rest = ""
		}
	}

	var parts []string
	if rest != "" {
		for _, m := range strings.Split(rest, "+") {
			m = strings.ToLower(m)
			if !modifiers[m] {
				return "", fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidValue, m, chord)
			}
			parts = append(parts, m)
		}
	}

	lower := strings.ToLower(key)
	switch {
	case namedKeys[lower]:
		key = lower
		if key == "space" {
			key = " "
		}
	case utf8.RuneCountInString(key) == 1:
		if len(parts) > 0 {
			key = lower
		}
	default:
		return "", fmt.Errorf("%w: unknown key %q in %q", ErrInvalidValue, key, chord)
	}

	return strings.Join(append(parts, key), "+"), nil
}
