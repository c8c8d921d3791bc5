package trace

import "time"

// EventType 跟踪事件类型 / EventType enumerates trace event kinds.
type EventType string

const (
	EventUserInput   EventType = "user_input"
	EventLLMRequest  EventType = "llm_request"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventLLMResponse EventType = "llm_response"
	EventTokenUsage  EventType = "token_usage"
	EventError       EventType = "error"
)

// Event is one immutable, timestamped fact in a session trace. Exactly one
// payload field is non-nil, matching Type.
type Event struct {
	Time        time.Time        `json:"timestamp"`
	Type        EventType        `json:"type"`
	UserInput   *UserInputData   `json:"user_input,omitempty"`
	LLMRequest  *LLMRequestData  `json:"llm_request,omitempty"`
	ToolCall    *ToolCallData    `json:"tool_call,omitempty"`
	ToolResult  *ToolResultData  `json:"tool_result,omitempty"`
	LLMResponse *LLMResponseData `json:"llm_response,omitempty"`
	TokenUsage  *TokenUsageData  `json:"token_usage,omitempty"`
	Error       *ErrorData       `json:"error,omitempty"`
}

type UserInputData struct {
	Text string `json:"text"`
}

type LLMRequestData struct {
	MessageCount    int      `json:"message_count"`
	Tools           []string `json:"tools"`
	EstimatedTokens int      `json:"estimated_tokens,omitempty"`
}

type ToolCallData struct {
	Tool       string         `json:"tool"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type ToolResultData struct {
	Tool           string `json:"tool"`
	Command        string `json:"command"`
	Result         string `json:"result"`
	Truncated      bool   `json:"truncated,omitempty"`
	OriginalLength int    `json:"original_length,omitempty"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type LLMResponseData struct {
	Text string `json:"text"`
}

// TokenCounts 四项 token 计数 / TokenCounts holds the four token counters.
type TokenCounts struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

type TokenUsageData struct {
	Last       TokenCounts `json:"last"`
	Cumulative TokenCounts `json:"cumulative"`
}

type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ToolCallEnvelope is handed to the real-time subscriber on every tool call,
// before the operation executes.
type ToolCallEnvelope struct {
	Type string       `json:"type"`
	Data ToolCallData `json:"data"`
}
