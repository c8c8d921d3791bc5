package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type RuntimeConfig struct {
	// MaxToolSteps 单轮对话中工具调用循环的上限
	// MaxToolSteps caps the tool-call loop within one conversation turn.
	MaxToolSteps int `json:"max_tool_steps"`
	MaxTokens    int `json:"max_tokens"`
}

type MemoryConfig struct {
	RootDir string `json:"root_dir"`
}

type TraceConfig struct {
	Dir string `json:"dir"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type Config struct {
	Provider     ProviderConfig `json:"provider"`
	Runtime      RuntimeConfig  `json:"runtime"`
	Memory       MemoryConfig   `json:"memory"`
	Trace        TraceConfig    `json:"trace"`
	Storage      StorageConfig  `json:"storage"`
	SystemPrompt string         `json:"system_prompt"`
}

// fileConfig 文件中的部分配置（指针字段表示显式设置）
// fileConfig mirrors Config with pointer sections so a partial file only
// overrides what it explicitly sets.
type fileConfig struct {
	Provider     *ProviderConfig `json:"provider"`
	Runtime      *RuntimeConfig  `json:"runtime"`
	Memory       *MemoryConfig   `json:"memory"`
	Trace        *TraceConfig    `json:"trace"`
	Storage      *StorageConfig  `json:"storage"`
	SystemPrompt *string         `json:"system_prompt"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o",
			TimeoutMS: 120000,
		},
		Runtime: RuntimeConfig{
			MaxToolSteps: 16,
			MaxTokens:    4096,
		},
		Memory: MemoryConfig{
			RootDir: "~/.memchat/memories",
		},
		Trace: TraceConfig{
			Dir: "~/.memchat/traces",
		},
		Storage: StorageConfig{
			BaseDir: "~/.memchat",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("MEMCHAT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".memchat", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"memchat.config.json",
		".memchat/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fc fileConfig
	if err := json.Unmarshal(cleaned, &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Runtime != nil {
		if fc.Runtime.MaxToolSteps > 0 {
			cfg.Runtime.MaxToolSteps = fc.Runtime.MaxToolSteps
		}
		if fc.Runtime.MaxTokens > 0 {
			cfg.Runtime.MaxTokens = fc.Runtime.MaxTokens
		}
	}
	if fc.Memory != nil && strings.TrimSpace(fc.Memory.RootDir) != "" {
		cfg.Memory.RootDir = fc.Memory.RootDir
	}
	if fc.Trace != nil && strings.TrimSpace(fc.Trace.Dir) != "" {
		cfg.Trace.Dir = fc.Trace.Dir
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.BaseDir) != "" {
		cfg.Storage.BaseDir = fc.Storage.BaseDir
	}
	if fc.SystemPrompt != nil {
		cfg.SystemPrompt = *fc.SystemPrompt
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Runtime.MaxToolSteps <= 0 {
		cfg.Runtime.MaxToolSteps = def.Runtime.MaxToolSteps
	}
	if cfg.Runtime.MaxTokens <= 0 {
		cfg.Runtime.MaxTokens = def.Runtime.MaxTokens
	}

	var err error
	if cfg.Memory.RootDir, err = expandPath(orDefault(cfg.Memory.RootDir, def.Memory.RootDir)); err != nil {
		return err
	}
	if cfg.Trace.Dir, err = expandPath(orDefault(cfg.Trace.Dir, def.Trace.Dir)); err != nil {
		return err
	}
	if cfg.Storage.BaseDir, err = expandPath(orDefault(cfg.Storage.BaseDir, def.Storage.BaseDir)); err != nil {
		return err
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("MEMCHAT_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCHAT_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCHAT_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCHAT_MAX_TOOL_STEPS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MEMCHAT_MAX_TOOL_STEPS: %q", v)
		}
		cfg.Runtime.MaxToolSteps = n
	}
	if v := strings.TrimSpace(os.Getenv("MEMCHAT_MEMORY_DIR")); v != "" {
		cfg.Memory.RootDir = v
	}

	return cfg, normalize(&cfg)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
