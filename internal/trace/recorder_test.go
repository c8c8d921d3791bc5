package trace

import (
	"strings"
	"testing"
)

func TestRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "test-model", "be helpful")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.LogUserInput("hello"); err != nil {
		t.Fatal(err)
	}
	if err := r.LogLLMRequest(1, []string{"memory"}, 12); err != nil {
		t.Fatal(err)
	}
	if err := r.LogToolCall("memory", "create", map[string]any{"path": "/memories/a.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := r.LogToolResult("memory", "create", "ok", true, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.LogLLMResponse("done"); err != nil {
		t.Fatal(err)
	}
	if err := r.LogTokenUsage(TokenCounts{Input: 10, Output: 5}, TokenCounts{Input: 10, Output: 5}); err != nil {
		t.Fatal(err)
	}
	if err := r.LogError("ModelCallFailure", "boom", ""); err != nil {
		t.Fatal(err)
	}

	path, err := r.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Events) != 7 {
		t.Fatalf("events=%d, want 7", len(doc.Events))
	}
	wantTypes := []EventType{
		EventUserInput, EventLLMRequest, EventToolCall, EventToolResult,
		EventLLMResponse, EventTokenUsage, EventError,
	}
	for i, want := range wantTypes {
		if doc.Events[i].Type != want {
			t.Fatalf("event %d type=%s, want %s", i, doc.Events[i].Type, want)
		}
	}
	if doc.Events[2].ToolCall == nil || doc.Events[2].ToolCall.Command != "create" {
		t.Fatalf("tool_call payload missing: %+v", doc.Events[2])
	}
	if doc.EndTime == "" {
		t.Fatal("end_time unset after finalize")
	}
	if doc.Model != "test-model" {
		t.Fatalf("model=%q", doc.Model)
	}
}

func TestRecorderPersistsEveryAppend(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "m", "p")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := r.LogUserInput("msg"); err != nil {
			t.Fatal(err)
		}
		doc, err := Load(r.Path())
		if err != nil {
			t.Fatalf("load after append %d: %v", i, err)
		}
		if len(doc.Events) != i+1 {
			t.Fatalf("on-disk events=%d, want %d", len(doc.Events), i+1)
		}
	}
}

func TestRecorderToolCallCallback(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "m", "p")
	if err != nil {
		t.Fatal(err)
	}
	var got []ToolCallEnvelope
	r.SetToolCallCallback(func(env ToolCallEnvelope) { got = append(got, env) })

	if err := r.LogToolCall("memory", "view", map[string]any{"path": "/memories"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("callback invocations=%d, want 1", len(got))
	}
	if got[0].Type != "tool_call" || got[0].Data.Command != "view" {
		t.Fatalf("envelope=%+v", got[0])
	}
}

func TestRecorderTruncatesLongResults(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "m", "p")
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("x", 2500)
	if err := r.LogToolResult("memory", "view", long, true, ""); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	res := doc.Events[0].ToolResult
	if res == nil {
		t.Fatal("missing tool_result payload")
	}
	if !res.Truncated || res.OriginalLength != 2500 {
		t.Fatalf("truncated=%v originalLength=%d", res.Truncated, res.OriginalLength)
	}
	if !strings.HasSuffix(res.Result, "...(truncated)") {
		t.Fatalf("preview missing marker: %q", res.Result[len(res.Result)-30:])
	}
	if len([]rune(res.Result)) != resultPreviewLimit+len("...(truncated)") {
		t.Fatalf("preview length=%d", len([]rune(res.Result)))
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "m", "p")
	if err != nil {
		t.Fatal(err)
	}
	p1, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	doc1, _ := Load(p1)
	p2, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatalf("paths differ: %q vs %q", p1, p2)
	}
	doc2, _ := Load(p2)
	if doc1.EndTime != doc2.EndTime {
		t.Fatalf("end_time rewritten: %q vs %q", doc1.EndTime, doc2.EndTime)
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if !strings.HasPrefix(id, "sess_") {
			t.Fatalf("id=%q missing prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
