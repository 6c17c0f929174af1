package tasks

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mpataki/maestro/internal/models"
)

func TestParse_Example(t *testing.T) {
	l := Parse("# T\n- [ ] a\n- [x] b\n")

	want := []models.Task{
		{Text: "a", Done: false, LineIndex: 1},
		{Text: "b", Done: true, LineIndex: 2},
	}
	if !reflect.DeepEqual(l.Tasks, want) {
		t.Fatalf("expected %+v, got %+v", want, l.Tasks)
	}
}

func TestToggle_Example(t *testing.T) {
	out, err := Toggle("# T\n- [ ] a\n- [x] b\n", 0)
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if out != "# T\n- [x] a\n- [x] b\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestParse_Variants(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *models.Task
	}{
		{"unchecked", "- [ ] write docs", &models.Task{Text: "write docs"}},
		{"checked lower", "- [x] done", &models.Task{Text: "done", Done: true}},
		{"checked upper", "- [X] done", &models.Task{Text: "done", Done: true}},
		{"star bullet", "* [ ] star", &models.Task{Text: "star"}},
		{"plus bullet", "+ [x] plus", &models.Task{Text: "plus", Done: true}},
		{"indented", "    - [ ] nested", &models.Task{Text: "nested"}},
		{"crlf", "- [ ] windows\r", &models.Task{Text: "windows"}},
		{"trailing spaces", "- [ ] padded   ", &models.Task{Text: "padded"}},
		{"empty brackets", "- [] nope", nil},
		{"double x", "- [xx] nope", nil},
		{"no bullet", "[ ] nope", nil},
		{"no text", "- [ ]", nil},
		{"no space after bullet", "-[ ] nope", nil},
		{"heading", "# - [ ] nope", nil},
		{"prose", "just some text", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Parse(tt.line)
			if tt.want == nil {
				if len(l.Tasks) != 0 {
					t.Fatalf("expected no tasks, got %+v", l.Tasks)
				}
				return
			}
			if len(l.Tasks) != 1 {
				t.Fatalf("expected 1 task, got %d", len(l.Tasks))
			}
			if l.Tasks[0] != *tt.want {
				t.Errorf("expected %+v, got %+v", *tt.want, l.Tasks[0])
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	docs := []string{
		"",
		"\n",
		"# Plan\n\nSome prose.\n\n- [ ] one\n- [x] two\n  * [ ] three\n",
		"- [ ] no trailing newline",
		"- [ ] crlf\r\n- [X] upper\r\n",
		"```\n- [ ] inside fence still counts\n```\n",
	}

	for _, d := range docs {
		first := Parse(d)
		if first.String() != d {
			t.Errorf("serialize changed text: %q -> %q", d, first.String())
		}
		second := Parse(first.String())
		if !reflect.DeepEqual(first.Tasks, second.Tasks) {
			t.Errorf("round trip mismatch for %q: %+v vs %+v", d, first.Tasks, second.Tasks)
		}
	}
}

func TestToggle_ChangesExactlyOneLine(t *testing.T) {
	doc := "# Header\n- [ ] a\ntext between\n- [x] b\n  - [ ] c\n"
	before := strings.Split(doc, "\n")

	for i := 0; i < 3; i++ {
		out, err := Toggle(doc, i)
		if err != nil {
			t.Fatalf("Toggle(%d) failed: %v", i, err)
		}
		after := strings.Split(out, "\n")
		if len(after) != len(before) {
			t.Fatalf("line count changed: %d -> %d", len(before), len(after))
		}
		diff := 0
		for j := range before {
			if before[j] != after[j] {
				diff++
			}
		}
		if diff != 1 {
			t.Errorf("Toggle(%d) changed %d lines, want 1", i, diff)
		}
	}
}

func TestToggle_OutOfRange(t *testing.T) {
	_, err := Toggle("- [ ] a\n", 3)
	if !errors.Is(err, ErrTaskIndex) {
		t.Fatalf("expected ErrTaskIndex, got %v", err)
	}
	_, err = Toggle("- [ ] a\n", -1)
	if !errors.Is(err, ErrTaskIndex) {
		t.Fatalf("expected ErrTaskIndex, got %v", err)
	}
}

func TestResetAll_Idempotent(t *testing.T) {
	doc := "- [x] a\n- [ ] b\n- [X] c\n"

	out, n := Reset(doc)
	if n != 2 {
		t.Errorf("expected 2 changes, got %d", n)
	}
	if out != "- [ ] a\n- [ ] b\n- [ ] c\n" {
		t.Errorf("unexpected reset output %q", out)
	}

	again, n := Reset(out)
	if n != 0 || again != out {
		t.Errorf("second reset should be a no-op, got %d changes and %q", n, again)
	}
}

func TestCountsAndFirstPending(t *testing.T) {
	l := Parse("- [x] a\n- [ ] b\n- [ ] c\n")

	completed, total := l.Counts()
	if completed != 1 || total != 3 {
		t.Errorf("expected 1/3, got %d/%d", completed, total)
	}

	task, idx, ok := l.FirstPending()
	if !ok || idx != 1 || task.Text != "b" {
		t.Errorf("expected pending task b at 1, got %+v at %d (ok=%v)", task, idx, ok)
	}

	l = Parse("- [x] a\n")
	if _, _, ok := l.FirstPending(); ok {
		t.Error("expected no pending task")
	}
}
