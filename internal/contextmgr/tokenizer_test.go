package contextmgr

import (
	"testing"

	"memchat/internal/chat"
)

func TestHeuristicTokenCount(t *testing.T) {
	if got := heuristicTokenCount(""); got != 0 {
		t.Fatalf("empty text should be 0, got %d", got)
	}
	if got := heuristicTokenCount("a"); got < 1 {
		t.Fatalf("minimum estimate is 1, got %d", got)
	}
	// 100 ASCII chars ~ 25 tokens
	ascii := make([]byte, 100)
	for i := range ascii {
		ascii[i] = 'x'
	}
	if got := heuristicTokenCount(string(ascii)); got != 25 {
		t.Fatalf("100 ascii chars = %d tokens, want 25", got)
	}
	// CJK 字符权重更高 / CJK characters weigh more
	cjk := heuristicTokenCount("你好世界")
	if cjk < 4 {
		t.Fatalf("4 CJK chars = %d tokens, want >= 4", cjk)
	}
}

func TestCountMessages(t *testing.T) {
	tok := NewTokenizer("cl100k_base")
	msgs := []chat.Message{
		{Role: "user", Content: "hello world"},
		{Role: "assistant", ToolCalls: []chat.ToolCall{
			{Function: chat.ToolCallFunction{Name: "memory", Arguments: `{"command":"view"}`}},
		}},
	}
	total := tok.Count(msgs)
	if total <= 0 {
		t.Fatalf("count should be positive, got %d", total)
	}
	// tool calls must contribute
	without := tok.Count(msgs[:1])
	if total <= without {
		t.Fatalf("tool call message not counted: total=%d first-only=%d", total, without)
	}
}

func TestCountRequest(t *testing.T) {
	tok := NewTokenizer("cl100k_base")
	msgs := []chat.Message{{Role: "user", Content: "hi"}}
	tools := []chat.ToolDef{{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        "memory",
			Description: "memory operations",
			Parameters:  map[string]any{"type": "object"},
		},
	}}

	bare := tok.CountRequest("", msgs, nil)
	withTools := tok.CountRequest("system prompt", msgs, tools)
	if withTools <= bare {
		t.Fatalf("system+tools should add tokens: bare=%d with=%d", bare, withTools)
	}
}

func TestModelToEncoding(t *testing.T) {
	cases := map[string]string{
		"":            "cl100k_base",
		"gpt-4o-mini": "o200k_base",
		"o1-preview":  "o200k_base",
		"gpt-4-turbo": "cl100k_base",
		"qwen-max":    "cl100k_base",
		"claude-3":    "cl100k_base",
	}
	for model, want := range cases {
		if got := modelToEncoding(model); got != want {
			t.Errorf("modelToEncoding(%q) = %q, want %q", model, got, want)
		}
	}
}
