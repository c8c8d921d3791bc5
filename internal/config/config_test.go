package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Runtime.MaxToolSteps != 16 {
		t.Fatalf("default max_tool_steps = %d, want 16", cfg.Runtime.MaxToolSteps)
	}
	if cfg.Provider.TimeoutMS <= 0 {
		t.Fatal("default timeout should be positive")
	}
}

func TestStripJSONComments(t *testing.T) {
	in := `{
		// line comment
		"provider": {
			"model": "m1" /* block comment */
		},
		"runtime": {"max_tool_steps": 4} // trailing
	}`
	out := stripJSONComments([]byte(in))
	if strings.Contains(string(out), "comment") {
		t.Fatalf("comments not stripped: %s", out)
	}

	// comment markers inside strings must survive
	in2 := `{"provider": {"base_url": "https://example.com/v1"}}`
	out2 := stripJSONComments([]byte(in2))
	if !strings.Contains(string(out2), "https://example.com/v1") {
		t.Fatalf("string content mangled: %s", out2)
	}
}

func TestPartialFileMerge(t *testing.T) {
	cfg := Default()
	file := `{
		// only override the model, everything else stays at defaults
		"provider": {"model": "custom-model"}
	}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mergeFromFile(&cfg, path); err != nil {
		t.Fatalf("mergeFromFile: %v", err)
	}
	if cfg.Provider.Model != "custom-model" {
		t.Fatalf("model = %q, want custom-model", cfg.Provider.Model)
	}
	if cfg.Provider.BaseURL != Default().Provider.BaseURL {
		t.Fatalf("base_url should stay at default, got %q", cfg.Provider.BaseURL)
	}
	if cfg.Runtime.MaxToolSteps != 16 {
		t.Fatalf("max_tool_steps should stay at default, got %d", cfg.Runtime.MaxToolSteps)
	}
}

func TestMergeMissingFileIsNoop(t *testing.T) {
	cfg := Default()
	if err := mergeFromFile(&cfg, filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MEMCHAT_API_KEY", "sk-env")
	t.Setenv("MEMCHAT_MODEL", "env-model")
	t.Setenv("MEMCHAT_MAX_TOOL_STEPS", "7")

	cfg, err := applyEnv(Default())
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Fatalf("api_key = %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "env-model" {
		t.Fatalf("model = %q", cfg.Provider.Model)
	}
	if cfg.Runtime.MaxToolSteps != 7 {
		t.Fatalf("max_tool_steps = %d", cfg.Runtime.MaxToolSteps)
	}

	t.Setenv("MEMCHAT_MAX_TOOL_STEPS", "zero")
	if _, err := applyEnv(Default()); err == nil {
		t.Fatal("invalid MEMCHAT_MAX_TOOL_STEPS should error")
	}
}

func TestLoadSystemPromptStripsCommentsAndAppendsDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	content := "# internal note for prompt authors\nYou are an assistant.\n  # indented comment\nUse your memory.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	got, err := LoadSystemPrompt(path, now)
	if err != nil {
		t.Fatalf("LoadSystemPrompt: %v", err)
	}
	if strings.Contains(got, "internal note") || strings.Contains(got, "indented comment") {
		t.Fatalf("comment lines not stripped:\n%s", got)
	}
	if !strings.Contains(got, "You are an assistant.") {
		t.Fatalf("prompt body lost:\n%s", got)
	}
	if !strings.HasSuffix(got, "Today's date: 2026-08-29") {
		t.Fatalf("date not appended:\n%s", got)
	}
}

func TestLoadSystemPromptDefault(t *testing.T) {
	got, err := LoadSystemPrompt("", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("LoadSystemPrompt: %v", err)
	}
	if !strings.Contains(got, "/memories") {
		t.Fatalf("default prompt should mention the memory directory:\n%s", got)
	}
	if !strings.Contains(got, "Today's date: 2026-01-02") {
		t.Fatalf("date not appended:\n%s", got)
	}
}
