package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// resultPreviewLimit caps tool result bodies stored in the trace; the full
// result still reaches the model, only the trace keeps a preview.
const resultPreviewLimit = 1000

// SessionTrace 单个会话的完整 JSON 文档
// SessionTrace is the full JSON document persisted for one session.
type SessionTrace struct {
	SessionID    string  `json:"session_id"`
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time,omitempty"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Events       []Event `json:"events"`
}

// Recorder owns one session trace document and rewrites it to disk on every
// appended event, so the on-disk state is never more than one event stale.
type Recorder struct {
	mu         sync.Mutex
	doc        SessionTrace
	path       string
	finalized  bool
	onToolCall func(ToolCallEnvelope)
}

// NewRecorder starts a fresh trace under dir and persists the empty document
// immediately.
func NewRecorder(dir, model, systemPrompt string) (*Recorder, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("trace dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	id := NewSessionID()
	r := &Recorder{
		doc: SessionTrace{
			SessionID:    id,
			StartTime:    time.Now().UTC().Format(time.RFC3339),
			Model:        model,
			SystemPrompt: systemPrompt,
			Events:       []Event{},
		},
		path: filepath.Join(dir, id+".json"),
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load parses a persisted trace document. Used by the diagram generator and
// session browser; it does not resume recording.
func Load(path string) (SessionTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionTrace{}, fmt.Errorf("read trace %s: %w", path, err)
	}
	var doc SessionTrace
	if err := json.Unmarshal(data, &doc); err != nil {
		return SessionTrace{}, fmt.Errorf("parse trace %s: %w", path, err)
	}
	return doc, nil
}

func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.SessionID
}

func (r *Recorder) Path() string {
	return r.path
}

// SetToolCallCallback registers the single real-time subscriber invoked on
// every tool call, before the operation executes.
func (r *Recorder) SetToolCallCallback(fn func(ToolCallEnvelope)) {
	r.mu.Lock()
	r.onToolCall = fn
	r.mu.Unlock()
}

func (r *Recorder) LogUserInput(text string) error {
	return r.append(Event{Type: EventUserInput, UserInput: &UserInputData{Text: text}})
}

func (r *Recorder) LogLLMRequest(messageCount int, tools []string, estimatedTokens int) error {
	return r.append(Event{Type: EventLLMRequest, LLMRequest: &LLMRequestData{
		MessageCount:    messageCount,
		Tools:           append([]string(nil), tools...),
		EstimatedTokens: estimatedTokens,
	}})
}

func (r *Recorder) LogToolCall(tool, command string, parameters map[string]any) error {
	data := ToolCallData{Tool: tool, Command: command, Parameters: parameters}

	r.mu.Lock()
	cb := r.onToolCall
	r.mu.Unlock()
	if cb != nil {
		cb(ToolCallEnvelope{Type: "tool_call", Data: data})
	}

	return r.append(Event{Type: EventToolCall, ToolCall: &data})
}

func (r *Recorder) LogToolResult(tool, command, result string, success bool, errMsg string) error {
	data := ToolResultData{Tool: tool, Command: command, Success: success, Error: errMsg}
	data.Result, data.Truncated, data.OriginalLength = truncateResult(result)
	return r.append(Event{Type: EventToolResult, ToolResult: &data})
}

func (r *Recorder) LogLLMResponse(text string) error {
	return r.append(Event{Type: EventLLMResponse, LLMResponse: &LLMResponseData{Text: text}})
}

func (r *Recorder) LogTokenUsage(last, cumulative TokenCounts) error {
	return r.append(Event{Type: EventTokenUsage, TokenUsage: &TokenUsageData{Last: last, Cumulative: cumulative}})
}

func (r *Recorder) LogError(kind, message, detail string) error {
	return r.append(Event{Type: EventError, Error: &ErrorData{Kind: kind, Message: message, Detail: detail}})
}

// Finalize sets the end time, persists, and returns the trace file location.
// Idempotent: later calls return the path without rewriting the end time.
func (r *Recorder) Finalize() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return r.path, nil
	}
	r.doc.EndTime = time.Now().UTC().Format(time.RFC3339)
	if err := r.persistLocked(); err != nil {
		return "", err
	}
	r.finalized = true
	return r.path, nil
}

// EventCount reports how many events have been appended so far.
func (r *Recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.doc.Events)
}

func (r *Recorder) append(e Event) error {
	e.Time = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Events = append(r.doc.Events, e)
	return r.persistLocked()
}

func (r *Recorder) persistLocked() error {
	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write trace %s: %w", r.path, err)
	}
	return nil
}

func truncateResult(result string) (preview string, truncated bool, originalLength int) {
	runes := []rune(result)
	if len(runes) <= resultPreviewLimit {
		return result, false, 0
	}
	return string(runes[:resultPreviewLimit]) + "...(truncated)", true, len(runes)
}
