// Package orchestrator drives the conversation loop: it sends history to the
// model, executes requested memory operations, and streams events back to the
// front-end while the session trace records everything.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"memchat/internal/chat"
	"memchat/internal/contextmgr"
	"memchat/internal/memory"
	"memchat/internal/provider"
	"memchat/internal/relay"
	"memchat/internal/session"
	"memchat/internal/storage"
	"memchat/internal/tools"
	"memchat/internal/trace"
)

// ErrToolLoopExceeded 单轮工具调用次数超过上限
// ErrToolLoopExceeded means one turn hit the tool-call step cap. The turn is
// aborted rather than silently answering with partial work.
var ErrToolLoopExceeded = errors.New("tool loop step limit exceeded")

type Options struct {
	Provider     provider.Provider
	Registry     *tools.Registry
	MemoryTool   *memory.Tool
	Tokenizer    *contextmgr.Tokenizer
	Index        storage.Index   // optional session index
	Broker       *session.Broker // optional session-change notifications
	TraceDir     string
	SystemPrompt string
	Model        string
	MaxToolSteps int
	MaxTokens    int
}

type Orchestrator struct {
	mu           sync.Mutex
	provider     provider.Provider
	registry     *tools.Registry
	memTool      *memory.Tool
	tokenizer    *contextmgr.Tokenizer
	index        storage.Index
	broker       *session.Broker
	traceDir     string
	systemPrompt string
	model        string
	maxToolSteps int
	maxTokens    int

	recorder   *trace.Recorder
	relay      *relay.Queue
	messages   []chat.Message
	cumulative trace.TokenCounts
	last       trace.TokenCounts
	finalized  bool
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.Registry == nil || opts.MemoryTool == nil {
		return nil, fmt.Errorf("memory tool and registry are required")
	}
	if strings.TrimSpace(opts.TraceDir) == "" {
		return nil, fmt.Errorf("trace directory is required")
	}
	if opts.MaxToolSteps <= 0 {
		opts.MaxToolSteps = 16
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = contextmgr.NewTokenizerForModel(opts.Model)
	}

	o := &Orchestrator{
		provider:     opts.Provider,
		registry:     opts.Registry,
		memTool:      opts.MemoryTool,
		tokenizer:    opts.Tokenizer,
		index:        opts.Index,
		broker:       opts.Broker,
		traceDir:     opts.TraceDir,
		systemPrompt: opts.SystemPrompt,
		model:        opts.Model,
		maxToolSteps: opts.MaxToolSteps,
		maxTokens:    opts.MaxTokens,
	}
	if err := o.startSessionLocked(); err != nil {
		return nil, err
	}
	return o, nil
}

// startSessionLocked provisions a fresh trace, relay queue and index row.
// Caller must hold o.mu (or be the constructor).
func (o *Orchestrator) startSessionLocked() error {
	rec, err := trace.NewRecorder(o.traceDir, o.model, o.systemPrompt)
	if err != nil {
		return fmt.Errorf("start session trace: %w", err)
	}
	q := relay.NewQueue()
	rec.SetToolCallCallback(func(env trace.ToolCallEnvelope) {
		_ = q.Enqueue(env)
	})
	o.memTool.SetRecorder(rec)

	o.recorder = rec
	o.relay = q
	o.finalized = false

	if o.index != nil {
		if err := o.index.CreateSession(storage.SessionRow{
			ID:        rec.SessionID(),
			Model:     o.model,
			TracePath: rec.Path(),
		}); err != nil {
			return fmt.Errorf("index session: %w", err)
		}
	}
	if o.broker != nil {
		o.broker.Announce(rec.SessionID())
	}
	return nil
}

func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recorder.SessionID()
}

func (o *Orchestrator) TracePath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recorder.Path()
}

func (o *Orchestrator) Model() string {
	return o.model
}

// History returns a copy of the durable conversation history.
func (o *Orchestrator) History() []chat.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]chat.Message(nil), o.messages...)
}

// Stats returns the last turn's token counts and the session cumulative.
func (o *Orchestrator) Stats() TokenStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return TokenStats{Last: o.last, Cumulative: o.cumulative}
}

// MemorySnapshot returns a readable dump of every stored memory file.
func (o *Orchestrator) MemorySnapshot() (string, error) {
	return o.memTool.Store().Dump()
}

// ClearMemories wipes the memory directory and starts a fresh session: new
// trace, new relay queue, empty history, zeroed token counters. The finished
// trace stays on disk and is finalized in the index.
func (o *Orchestrator) ClearMemories() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg, err := o.memTool.Store().ClearAll()
	if err != nil {
		return "", err
	}
	if err := o.finalizeLocked(); err != nil {
		return "", err
	}
	o.messages = nil
	o.cumulative = trace.TokenCounts{}
	o.last = trace.TokenCounts{}
	if err := o.startSessionLocked(); err != nil {
		return "", err
	}
	return msg, nil
}

// Finalize closes the current session trace and returns its path. Safe to
// call more than once.
func (o *Orchestrator) Finalize() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.finalizeLocked(); err != nil {
		return "", err
	}
	return o.recorder.Path(), nil
}

func (o *Orchestrator) finalizeLocked() error {
	if o.finalized {
		return nil
	}
	o.relay.Close()
	if _, err := o.recorder.Finalize(); err != nil {
		return fmt.Errorf("finalize trace: %w", err)
	}
	if o.index != nil {
		if err := o.index.FinalizeSession(o.recorder.SessionID(), o.recorder.EventCount()); err != nil {
			return fmt.Errorf("finalize index row: %w", err)
		}
	}
	o.finalized = true
	return nil
}

func toCounts(u provider.Usage) trace.TokenCounts {
	return trace.TokenCounts{
		Input:      u.InputTokens,
		Output:     u.OutputTokens,
		CacheRead:  u.CacheReadTokens,
		CacheWrite: u.CacheWriteTokens,
	}
}

func addCounts(a, b trace.TokenCounts) trace.TokenCounts {
	return trace.TokenCounts{
		Input:      a.Input + b.Input,
		Output:     a.Output + b.Output,
		CacheRead:  a.CacheRead + b.CacheRead,
		CacheWrite: a.CacheWrite + b.CacheWrite,
	}
}
