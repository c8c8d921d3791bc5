package provider

import (
	"context"

	"memchat/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []chat.Message
	Tools     []chat.ToolDef
	MaxTokens int
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses. Callbacks are
// invoked from inside the blocking Chat call, in stream order.
type StreamCallbacks struct {
	OnTextChunk func(chunk string)
	OnToolCall  func(call chat.ToolCall)
	OnUsage     func(usage Usage)
}

// Usage token 用量统计，含缓存读写计数
// Usage reports token consumption, including prompt-cache counters where the
// backend exposes them.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	TotalTokens      int
}

// Add returns the element-wise sum of two usage snapshots.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// ChatResponse 完整响应
// ChatResponse is the complete response for one model call.
type ChatResponse struct {
	Content      string
	ToolCalls    []chat.ToolCall
	FinishReason string
	Usage        Usage
}

// Provider 模型后端接口。历史在每次调用时重新转换为 SDK 请求结构，
// 因此调用方永远不需要清洗或原地修改曾经返回过的对象。
// Provider is the model backend interface. History is converted into fresh
// SDK request structs on every call, so callers never sanitize or mutate a
// previously returned object in place.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error)
	CurrentModel() string
}
