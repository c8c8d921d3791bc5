package orchestrator

import "memchat/internal/trace"

// EventType 对话事件类型
// EventType identifies one kind of conversation event streamed to the caller.
type EventType string

const (
	// EventThinking 模型开始处理 / the model has started working on the turn
	EventThinking EventType = "thinking"
	// EventTextDelta 流式文本片段 / a streamed chunk of assistant text
	EventTextDelta EventType = "text_delta"
	// EventToolCall 内存操作通知（tool_call/tool_result 信封）
	// EventToolCall carries relayed memory operation envelopes.
	EventToolCall EventType = "tool_call"
	// EventDone 回合正常结束，附带 token 统计 / turn finished, with token stats
	EventDone EventType = "done"
	// EventError 回合失败 / turn failed
	EventError EventType = "error"
)

// TokenStats 最近一轮与累计的 token 计数
// TokenStats holds the last turn's counts and the session cumulative counts.
type TokenStats struct {
	Last       trace.TokenCounts `json:"last"`
	Cumulative trace.TokenCounts `json:"cumulative"`
}

// Event 是 Send 返回通道上的一个事件。每个事件只填充与其类型对应的字段。
// Event is one item on the channel returned by Send. Only the fields matching
// the event's type are populated.
type Event struct {
	Type      EventType
	Text      string                   // text_delta
	Envelopes []trace.ToolCallEnvelope // tool_call
	Stats     TokenStats               // done
	Err       error                    // error
}
