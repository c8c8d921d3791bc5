package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"memchat/internal/orchestrator"
	"memchat/internal/trace"
)

const (
	ansiReset  = "\x1b[0m"
	ansiCyan   = "\x1b[36m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
	ansiBold   = "\x1b[1m"
)

// answerStreamRenderer prints streamed assistant text with a block header and
// collapses runs of blank lines.
type answerStreamRenderer struct {
	out             io.Writer
	started         bool
	lineStart       bool
	pendingNewlines int
	hasVisibleText  bool
}

func newAnswerStreamRenderer(out io.Writer) *answerStreamRenderer {
	return &answerStreamRenderer{out: out, lineStart: true}
}

func (r *answerStreamRenderer) start() {
	if r == nil || r.out == nil || r.started {
		return
	}
	r.started = true
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "%s %s\n", style("[ANSWER]", ansiCyan+";"+ansiBold), style(strings.Repeat("─", 40), ansiCyan))
}

func (r *answerStreamRenderer) Append(chunk string) {
	if r == nil || r.out == nil || chunk == "" {
		return
	}
	r.start()
	normalized := strings.ReplaceAll(strings.ReplaceAll(chunk, "\r\n", "\n"), "\r", "\n")
	for _, ch := range normalized {
		if ch == '\n' {
			r.pendingNewlines++
			continue
		}
		r.flushPendingNewlines()
		if r.lineStart {
			r.lineStart = false
		}
		_, _ = fmt.Fprint(r.out, string(ch))
		r.hasVisibleText = true
	}
}

func (r *answerStreamRenderer) Finish() {
	if r == nil || r.out == nil || !r.started {
		return
	}
	r.pendingNewlines = 0
	if !r.lineStart {
		_, _ = fmt.Fprintln(r.out)
		r.lineStart = true
	}
	_, _ = fmt.Fprintln(r.out)
}

func (r *answerStreamRenderer) flushPendingNewlines() {
	if r.pendingNewlines == 0 {
		return
	}
	if !r.hasVisibleText {
		r.pendingNewlines = 0
		return
	}
	newlineCount := r.pendingNewlines
	if newlineCount > 2 {
		newlineCount = 2
	}
	for i := 0; i < newlineCount; i++ {
		_, _ = fmt.Fprint(r.out, "\n")
	}
	r.pendingNewlines = 0
	r.lineStart = true
}

func renderThinking(out io.Writer) {
	_, _ = fmt.Fprintf(out, "%s\n", style("… thinking", ansiGray))
}

// renderMemoryOp 打印一次内存操作通知
// renderMemoryOp prints one relayed memory operation.
func renderMemoryOp(out io.Writer, env trace.ToolCallEnvelope) {
	detail := env.Data.Command
	if p, ok := env.Data.Parameters["path"].(string); ok {
		detail += " " + p
	}
	if env.Data.Command == "rename" {
		oldPath, _ := env.Data.Parameters["old_path"].(string)
		newPath, _ := env.Data.Parameters["new_path"].(string)
		detail = fmt.Sprintf("rename %s -> %s", oldPath, newPath)
	}
	_, _ = fmt.Fprintf(out, "%s %s\n", style("[MEMORY]", ansiYellow+";"+ansiBold), style(detail, ansiYellow))
}

func renderTurnStats(out io.Writer, stats orchestrator.TokenStats) {
	_, _ = fmt.Fprintf(out, "%s\n", style(formatCounts("turn", stats.Last), ansiGray))
}

func renderFullStats(out io.Writer, stats orchestrator.TokenStats) {
	_, _ = fmt.Fprintf(out, "%s\n", formatCounts("last turn ", stats.Last))
	_, _ = fmt.Fprintf(out, "%s\n", formatCounts("cumulative", stats.Cumulative))
}

func formatCounts(label string, c trace.TokenCounts) string {
	return fmt.Sprintf("%s: input=%d output=%d cache_read=%d cache_write=%d",
		label, c.Input, c.Output, c.CacheRead, c.CacheWrite)
}

func style(text, codes string) string {
	if text == "" || !enableColor() {
		return text
	}
	segments := strings.Split(codes, ";")
	var builder strings.Builder
	for _, segment := range segments {
		code := strings.TrimSpace(segment)
		if code == "" {
			continue
		}
		builder.WriteString(code)
	}
	if builder.Len() == 0 {
		return text
	}
	return builder.String() + text + ansiReset
}

func enableColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("MEMCHAT_NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}
