package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"memchat/internal/config"
	"memchat/internal/contextmgr"
	"memchat/internal/diagram"
	"memchat/internal/memory"
	"memchat/internal/oplog"
	"memchat/internal/orchestrator"
	"memchat/internal/provider"
	"memchat/internal/session"
	"memchat/internal/storage"
	"memchat/internal/tools"
	"memchat/internal/trace"

	"github.com/chzyer/readline"
)

func main() {
	var (
		configPath  string
		memDir      string
		promptPath  string
		diagramFile string
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&memDir, "memdir", "", "Memory root directory override")
	flag.StringVar(&promptPath, "prompt", "", "System prompt file override")
	flag.StringVar(&diagramFile, "diagram", "", "Render a trace file as a sequence diagram and exit")
	flag.Parse()

	// 独立的 diagram 模式：读 trace，输出 Mermaid，退出
	// Standalone diagram mode: read a trace, print Mermaid, exit.
	if strings.TrimSpace(diagramFile) != "" {
		doc, err := trace.Load(diagramFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load trace failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(diagram.Render(doc))
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(memDir) != "" {
		cfg.Memory.RootDir = memDir
	}
	if strings.TrimSpace(promptPath) == "" {
		promptPath = cfg.SystemPrompt
	}

	systemPrompt, err := config.LoadSystemPrompt(promptPath, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load system prompt failed: %v\n", err)
		os.Exit(1)
	}

	memStore, err := memory.NewStore(cfg.Memory.RootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init memory store failed: %v\n", err)
		os.Exit(1)
	}
	opLogger, err := oplog.New(filepath.Join(cfg.Storage.BaseDir, "operations.log"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init operation log failed: %v\n", err)
		os.Exit(1)
	}
	memTool := memory.NewTool(memStore, opLogger)
	registry := tools.NewRegistry(memTool)

	index, err := storage.NewSQLiteIndex(filepath.Join(cfg.Storage.BaseDir, "sessions.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init session index failed: %v\n", err)
		os.Exit(1)
	}
	defer index.Close()

	providerClient := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		TimeoutMS: cfg.Provider.TimeoutMS,
	})
	broker := session.NewBroker("")

	orch, err := orchestrator.New(orchestrator.Options{
		Provider:     providerClient,
		Registry:     registry,
		MemoryTool:   memTool,
		Tokenizer:    contextmgr.NewTokenizerForModel(cfg.Provider.Model),
		Index:        index,
		Broker:       broker,
		TraceDir:     cfg.Trace.Dir,
		SystemPrompt: systemPrompt,
		Model:        cfg.Provider.Model,
		MaxToolSteps: cfg.Runtime.MaxToolSteps,
		MaxTokens:    cfg.Runtime.MaxTokens,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init orchestrator failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if path, err := orch.Finalize(); err == nil {
			fmt.Fprintf(os.Stderr, "trace saved: %s\n", path)
		}
	}()

	inputReader, inputErr := openREPLInput(filepath.Join(cfg.Storage.BaseDir, "repl.history"))
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer inputReader.Close()

	fmt.Printf("memchat started, memory root: %s\n", memStore.Root())

	// 会话横幅由 broker 驱动：启动时一次，/clear 轮换后再次
	// The session banner is broker-driven: once at startup, again after /clear.
	sessionCh, unsubscribe := broker.Subscribe()
	defer unsubscribe()
	go watchSessions(sessionCh, orch.Model(), os.Stdout)

	printREPLCommands(os.Stdout)

	for {
		line, err := inputReader.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(os.Stdout)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(os.Stderr, "\nexit")
				return
			default:
				fmt.Fprintf(os.Stderr, "read input failed: %v\n", err)
				return
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			handled, shouldExit := handleCommand(input, orch, index, os.Stdout)
			if handled {
				if shouldExit {
					return
				}
				continue
			}
		}

		runTurn(context.Background(), orch, input, os.Stdout)
	}
}

// watchSessions prints the session banner for the current session and again
// whenever the identifier rotates.
func watchSessions(ch <-chan string, model string, out io.Writer) {
	for id := range ch {
		fmt.Fprintf(out, "session: %s model=%s\n", id, model)
	}
}

// runTurn streams one conversation turn to the terminal.
func runTurn(ctx context.Context, orch *orchestrator.Orchestrator, input string, out io.Writer) {
	renderer := newAnswerStreamRenderer(out)
	for event := range orch.Send(ctx, input) {
		switch event.Type {
		case orchestrator.EventThinking:
			renderThinking(out)
		case orchestrator.EventTextDelta:
			renderer.Append(event.Text)
		case orchestrator.EventToolCall:
			for _, env := range event.Envelopes {
				renderMemoryOp(out, env)
			}
		case orchestrator.EventDone:
			renderer.Finish()
			renderTurnStats(out, event.Stats)
		case orchestrator.EventError:
			renderer.Finish()
			fmt.Fprintf(out, "  %s %s\n", style("x", ansiRed+";"+ansiBold), style(event.Err.Error(), ansiRed))
		}
	}
}
