package batch

import (
	"strconv"
	"strings"

	"github.com/mpataki/maestro/internal/lua"
)

// DefaultPrompt is used when no prompt or script is configured.
const DefaultPrompt = `You are working through the Auto Run document {DOCUMENT_NAME} at {DOCUMENT_PATH}.

Complete this task, and only this task:

    {TASK}

When it is done, mark it complete in {DOCUMENT_PATH} by changing its "- [ ]" to "- [x]". Do not change any other checkbox. If the task cannot be completed, leave it unchecked and explain why in the document below the task.`

func (c *Controller) buildPrompt(opts Options, pc lua.PromptContext) (string, error) {
	if opts.PromptScript != "" {
		return lua.NewRuntime(c.logger).BuildPrompt(opts.PromptScript, pc)
	}
	tmpl := opts.Prompt
	if tmpl == "" {
		tmpl = DefaultPrompt
	}
	return ExpandPrompt(tmpl, pc), nil
}

// ExpandPrompt substitutes {DOCUMENT_NAME}, {DOCUMENT_PATH}, {FOLDER},
// {TASK}, {TASK_INDEX} and {LOOP}.
func ExpandPrompt(tmpl string, pc lua.PromptContext) string {
	r := strings.NewReplacer(
		"{DOCUMENT_NAME}", strings.TrimSuffix(pc.Document, ".md"),
		"{DOCUMENT_PATH}", pc.Path,
		"{FOLDER}", pc.Folder,
		"{TASK}", pc.Task,
		"{TASK_INDEX}", strconv.Itoa(pc.TaskIndex),
		"{LOOP}", strconv.Itoa(pc.Loop),
	)
	return r.Replace(tmpl)
}
