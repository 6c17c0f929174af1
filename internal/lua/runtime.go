package lua

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
)

// PromptContext is what a prompt script sees as its ctx argument.
type PromptContext struct {
	Document  string
	Path      string
	Folder    string
	Task      string
	TaskIndex int
	Loop      int
	Completed int
	Total     int
}

// Runtime evaluates prompt scripts in a sandboxed Lua state
type Runtime struct {
	logger *slog.Logger
	logs   []string
}

// NewRuntime creates a new Lua runtime
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		logger: logger,
		logs:   make([]string, 0),
	}
}

// BuildPrompt loads the script at scriptPath and returns prompt(ctx)
func (r *Runtime) BuildPrompt(scriptPath string, pc PromptContext) (string, error) {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return r.BuildPromptString(string(script), pc)
}

// BuildPromptString is BuildPrompt for an in-memory script
func (r *Runtime) BuildPromptString(script string, pc PromptContext) (string, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()

	r.openSafeLibs(L)
	r.registerAPI(L, pc)

	if err := L.DoString(script); err != nil {
		return "", fmt.Errorf("failed to load script: %w", err)
	}

	fn := L.GetGlobal("prompt")
	if fn.Type() != lua.LTFunction {
		return "", fmt.Errorf("script must define a 'prompt' function")
	}

	L.Push(fn)
	L.Push(r.contextTable(L, pc))
	if err := L.PCall(1, 1, nil); err != nil {
		return "", fmt.Errorf("prompt script failed: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	str, ok := ret.(lua.LString)
	if !ok {
		return "", fmt.Errorf("prompt() must return a string, got %s", ret.Type())
	}
	return string(str), nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Prompts should be reproducible
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState, pc PromptContext) {
	L.SetGlobal("log", L.NewFunction(r.luaLog))
	L.SetGlobal("context", L.NewFunction(func(L *lua.LState) int {
		L.Push(r.contextTable(L, pc))
		return 1
	}))
}

func (r *Runtime) contextTable(L *lua.LState, pc PromptContext) *lua.LTable {
	return r.toTable(L, map[string]any{
		"document":   pc.Document,
		"path":       pc.Path,
		"folder":     pc.Folder,
		"task":       pc.Task,
		"task_index": pc.TaskIndex,
		"loop":       pc.Loop,
		"completed":  pc.Completed,
		"total":      pc.Total,
	})
}

func (r *Runtime) toTable(L *lua.LState, values map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range values {
		L.SetField(tbl, k, r.goToLua(L, v))
	}
	return tbl
}

// goToLua converts a Go value to a Lua value
func (r *Runtime) goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), lua.LString(item))
		}
		return tbl
	case map[string]any:
		return r.toTable(L, val)
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaLog implements the log(message) API
func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	r.logger.Info("prompt script", "message", message)
	return 0
}

// GetLogs returns the messages logged by scripts
func (r *Runtime) GetLogs() []string {
	return r.logs
}

// IsLuaScript checks if a file is a Lua script
func IsLuaScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}
