package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"memchat/internal/chat"
	"memchat/internal/oplog"
	"memchat/internal/trace"
)

// Command is the single argument struct for every memory operation, in the
// shape the model sends it.
type Command struct {
	Command    string `json:"command"`
	Path       string `json:"path,omitempty"`
	FileText   string `json:"file_text,omitempty"`
	ViewRange  []int  `json:"view_range,omitempty"`
	OldStr     string `json:"old_str,omitempty"`
	NewStr     string `json:"new_str,omitempty"`
	InsertLine int    `json:"insert_line,omitempty"`
	InsertText string `json:"insert_text,omitempty"`
	OldPath    string `json:"old_path,omitempty"`
	NewPath    string `json:"new_path,omitempty"`
}

// Tool 将 Store 暴露为模型可调用的单个 "memory" 工具
// Tool exposes the Store to the model as the single "memory" tool and wires
// the side effects of every operation: one audit log entry per attempt, plus
// tool_call / tool_result trace events when a recorder is attached.
type Tool struct {
	store *Store
	log   *oplog.Logger

	mu       sync.Mutex
	recorder *trace.Recorder
}

func NewTool(store *Store, log *oplog.Logger) *Tool {
	return &Tool{store: store, log: log}
}

func (t *Tool) Store() *Store {
	return t.store
}

// SetRecorder attaches the trace recorder for the current session. Called on
// session start and again after every reset.
func (t *Tool) SetRecorder(r *trace.Recorder) {
	t.mu.Lock()
	t.recorder = r
	t.mu.Unlock()
}

func (t *Tool) currentRecorder() *trace.Recorder {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recorder
}

func (t *Tool) Name() string {
	return "memory"
}

func (t *Tool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name: t.Name(),
			Description: "Manage your persistent memory: files under " + RootMarker + ". " +
				"Use view to list directories or read files, create to write new files, " +
				"str_replace and insert to edit, delete to remove, rename to move. " +
				"All paths must start with " + RootMarker + ".",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type": "string",
						"enum": []string{"view", "create", "str_replace", "insert", "delete", "rename"},
					},
					"path":        map[string]any{"type": "string"},
					"file_text":   map[string]any{"type": "string"},
					"view_range":  map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
					"old_str":     map[string]any{"type": "string"},
					"new_str":     map[string]any{"type": "string"},
					"insert_line": map[string]any{"type": "integer"},
					"insert_text": map[string]any{"type": "string"},
					"old_path":    map[string]any{"type": "string"},
					"new_path":    map[string]any{"type": "string"},
				},
				"required": []string{"command"},
			},
		},
	}
}

func (t *Tool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var cmd Command
	if err := json.Unmarshal(args, &cmd); err != nil {
		return "", fmt.Errorf("memory args: %w", err)
	}
	return t.Run(cmd)
}

// Run executes one command with full side effects. The trace tool_call event
// is emitted before the operation touches the filesystem; the tool_result
// event afterwards, success or failure.
func (t *Tool) Run(cmd Command) (string, error) {
	recorder := t.currentRecorder()
	if recorder != nil {
		_ = recorder.LogToolCall(t.Name(), cmd.Command, cmd.parameters())
	}

	result, err := t.dispatch(cmd)

	if t.log != nil {
		entry := oplog.Entry{
			Operation: operationKind(cmd.Command),
			Path:      cmd.targetPath(),
			Detail:    detailFor(cmd, result, err),
		}
		if cmd.Command == "rename" {
			entry.PriorPath = cmd.OldPath
			entry.Path = cmd.NewPath
		}
		_ = t.log.Log(entry)
	}

	if recorder != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		_ = recorder.LogToolResult(t.Name(), cmd.Command, result, err == nil, errMsg)
	}
	return result, err
}

func (t *Tool) dispatch(cmd Command) (string, error) {
	switch cmd.Command {
	case "view":
		return t.store.View(cmd.Path, cmd.ViewRange)
	case "create":
		return t.store.Create(cmd.Path, cmd.FileText)
	case "str_replace":
		return t.store.StrReplace(cmd.Path, cmd.OldStr, cmd.NewStr)
	case "insert":
		return t.store.Insert(cmd.Path, cmd.InsertLine, cmd.InsertText)
	case "delete":
		return t.store.Delete(cmd.Path)
	case "rename":
		return t.store.Rename(cmd.OldPath, cmd.NewPath)
	default:
		return "", fmt.Errorf("unknown memory command %q", cmd.Command)
	}
}

func (c Command) targetPath() string {
	if c.Command == "rename" {
		return c.NewPath
	}
	return c.Path
}

// parameters reports only the fields the command actually carries, for the
// trace event payload.
func (c Command) parameters() map[string]any {
	params := map[string]any{}
	if c.Path != "" {
		params["path"] = c.Path
	}
	if c.FileText != "" {
		params["file_text"] = c.FileText
	}
	if len(c.ViewRange) > 0 {
		params["view_range"] = c.ViewRange
	}
	if c.OldStr != "" {
		params["old_str"] = c.OldStr
	}
	if c.NewStr != "" {
		params["new_str"] = c.NewStr
	}
	if c.InsertLine != 0 {
		params["insert_line"] = c.InsertLine
	}
	if c.InsertText != "" {
		params["insert_text"] = c.InsertText
	}
	if c.OldPath != "" {
		params["old_path"] = c.OldPath
	}
	if c.NewPath != "" {
		params["new_path"] = c.NewPath
	}
	return params
}

func operationKind(command string) string {
	switch command {
	case "view":
		return "read"
	case "create":
		return "create"
	case "str_replace", "insert":
		return "update"
	case "delete":
		return "delete"
	case "rename":
		return "rename"
	default:
		return command
	}
}

func detailFor(cmd Command, result string, err error) string {
	if err != nil {
		return "ERROR: " + err.Error()
	}
	switch cmd.Command {
	case "create":
		return fmt.Sprintf("%d bytes, %d lines", len(cmd.FileText), len(strings.Split(cmd.FileText, "\n")))
	case "view":
		return fmt.Sprintf("%d lines", len(strings.Split(result, "\n")))
	case "insert":
		return fmt.Sprintf("line %d", cmd.InsertLine)
	default:
		return result
	}
}
