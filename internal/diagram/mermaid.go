// Package diagram renders a session trace as a Mermaid sequence diagram.
// The transform is pure: the same trace always yields the same text.
package diagram

import (
	"fmt"
	"strings"

	"memchat/internal/trace"
)

// labelLimit caps text carried on a diagram arrow.
const labelLimit = 60

// Render converts a parsed session trace to Mermaid sequenceDiagram text.
// User inputs and assistant responses travel between the User and Assistant
// lanes; each memory operation is an activate/deactivate pair on the Memory
// lane.
func Render(doc trace.SessionTrace) string {
	var b strings.Builder
	b.WriteString("sequenceDiagram\n")
	fmt.Fprintf(&b, "    participant U as User\n")
	fmt.Fprintf(&b, "    participant A as Assistant (%s)\n", sanitize(doc.Model))
	fmt.Fprintf(&b, "    participant M as Memory\n")

	for _, e := range doc.Events {
		switch e.Type {
		case trace.EventUserInput:
			if e.UserInput == nil {
				continue
			}
			fmt.Fprintf(&b, "    U->>A: %s\n", clip(e.UserInput.Text))
		case trace.EventToolCall:
			if e.ToolCall == nil {
				continue
			}
			fmt.Fprintf(&b, "    A->>M: %s %s\n", sanitize(e.ToolCall.Command), clip(pathOf(e.ToolCall.Parameters)))
			b.WriteString("    activate M\n")
		case trace.EventToolResult:
			if e.ToolResult == nil {
				continue
			}
			arrow := "M-->>A"
			label := clip(e.ToolResult.Result)
			if !e.ToolResult.Success {
				label = clip("error: " + e.ToolResult.Error)
			}
			fmt.Fprintf(&b, "    %s: %s\n", arrow, label)
			b.WriteString("    deactivate M\n")
		case trace.EventLLMResponse:
			if e.LLMResponse == nil {
				continue
			}
			fmt.Fprintf(&b, "    A->>U: %s\n", clip(e.LLMResponse.Text))
		case trace.EventTokenUsage:
			if e.TokenUsage == nil {
				continue
			}
			fmt.Fprintf(&b, "    Note over A: tokens in=%d out=%d cache_r=%d cache_w=%d\n",
				e.TokenUsage.Last.Input, e.TokenUsage.Last.Output,
				e.TokenUsage.Last.CacheRead, e.TokenUsage.Last.CacheWrite)
		case trace.EventError:
			if e.Error == nil {
				continue
			}
			fmt.Fprintf(&b, "    Note over A: error (%s) %s\n", sanitize(e.Error.Kind), clip(e.Error.Message))
		}
	}
	return b.String()
}

func pathOf(params map[string]any) string {
	if params == nil {
		return ""
	}
	if p, ok := params["path"].(string); ok {
		return p
	}
	if p, ok := params["old_path"].(string); ok {
		return p
	}
	return ""
}

// clip truncates to the label limit with an ellipsis marker and strips
// characters that would break Mermaid syntax.
func clip(s string) string {
	s = sanitize(s)
	runes := []rune(s)
	if len(runes) <= labelLimit {
		return s
	}
	return string(runes[:labelLimit]) + "..."
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, ";", ",")
	s = strings.ReplaceAll(s, ":", " -")
	return strings.TrimSpace(s)
}
