package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// defaultSystemPrompt 内置系统提示词，未提供提示词文件时使用
// defaultSystemPrompt is used when no prompt file is configured.
const defaultSystemPrompt = `You are a helpful assistant with a persistent memory directory.

Before answering, check your /memories directory for relevant context from
earlier conversations. Record important facts, preferences, and open tasks
there as you learn them, and keep the directory tidy: update stale notes and
delete files that no longer matter.`

// LoadSystemPrompt 加载系统提示词：剥离 # 注释行并追加当前日期
// LoadSystemPrompt reads the system prompt. Lines starting with '#' are
// treated as author comments and stripped. The current date is appended so
// the model can timestamp its memory entries.
func LoadSystemPrompt(path string, now time.Time) (string, error) {
	prompt := defaultSystemPrompt
	if strings.TrimSpace(path) != "" {
		resolved, err := expandPath(path)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", fmt.Errorf("read system prompt %q: %w", resolved, err)
		}
		prompt = stripPromptComments(string(data))
	}

	prompt = strings.TrimSpace(prompt)
	return fmt.Sprintf("%s\n\nToday's date: %s", prompt, now.Format("2006-01-02")), nil
}

func stripPromptComments(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
