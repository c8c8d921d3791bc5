package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"memchat/internal/chat"
	"memchat/internal/provider"
)

// Send runs one conversation turn and streams events on the returned channel.
// The channel is closed when the turn ends with either a done or error event.
// Turns are serialized: a second Send blocks until the first finishes.
//
// A consumer may stop reading at any point; once ctx is canceled, remaining
// events are dropped and the turn still runs to completion, so an abandoned
// stream never leaves the orchestrator stuck mid-turn.
func (o *Orchestrator) Send(ctx context.Context, userInput string) <-chan Event {
	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		o.mu.Lock()
		defer o.mu.Unlock()
		o.runTurnLocked(ctx, userInput, ch)
	}()
	return ch
}

// emit delivers one event unless the turn has been abandoned.
func (o *Orchestrator) emit(ctx context.Context, ch chan<- Event, e Event) {
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) runTurnLocked(ctx context.Context, userInput string, ch chan<- Event) {
	preTurnLen := len(o.messages)
	o.messages = append(o.messages, chat.Message{Role: "user", Content: userInput})
	_ = o.recorder.LogUserInput(userInput)

	toolDefs := o.registry.Definitions()
	loopMsgs := append([]chat.Message(nil), o.messages...)

	estimated := o.tokenizer.CountRequest(o.systemPrompt, loopMsgs, toolDefs)
	_ = o.recorder.LogLLMRequest(len(loopMsgs), o.registry.Names(), estimated)

	o.emit(ctx, ch, Event{Type: EventThinking})

	var (
		turnUsage provider.Usage
		finalText string
	)

	for step := 0; ; step++ {
		if step >= o.maxToolSteps {
			o.failTurnLocked(ctx, ch, preTurnLen, "tool_loop_exceeded",
				fmt.Errorf("%w after %d steps", ErrToolLoopExceeded, o.maxToolSteps))
			return
		}
		if err := ctx.Err(); err != nil {
			o.failTurnLocked(ctx, ch, preTurnLen, "canceled", err)
			return
		}

		resp, err := o.provider.Chat(ctx, provider.ChatRequest{
			Model:     o.model,
			System:    o.systemPrompt,
			Messages:  loopMsgs,
			Tools:     toolDefs,
			MaxTokens: o.maxTokens,
		}, &provider.StreamCallbacks{
			OnTextChunk: func(chunk string) {
				if chunk == "" {
					return
				}
				o.drainRelay(ctx, ch)
				o.emit(ctx, ch, Event{Type: EventTextDelta, Text: chunk})
			},
		})
		if err != nil {
			o.failTurnLocked(ctx, ch, preTurnLen, "model_call_failure", fmt.Errorf("model call failed: %w", err))
			return
		}
		turnUsage = turnUsage.Add(resp.Usage)

		loopMsgs = append(loopMsgs, chat.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Content
			break
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				o.failTurnLocked(ctx, ch, preTurnLen, "canceled", err)
				return
			}
			result, execErr := o.registry.Execute(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if execErr != nil {
				// 操作失败不会终止回合：错误文本作为工具结果返回给模型
				// A failed operation does not abort the turn; the error text
				// goes back to the model as the tool result.
				result = fmt.Sprintf("ERROR: %v", execErr)
			}
			loopMsgs = append(loopMsgs, chat.Message{
				Role:       "tool",
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    result,
			})
			// 每次工具调用后立即转发事件，不等整批结束
			// Relay the envelope right after each call, not at batch end.
			o.drainRelay(ctx, ch)
		}
	}

	// 持久历史只保留用户输入和最终回答，内存操作往返不进入下一轮请求
	// Durable history keeps only the user input and the final answer; the
	// tool-call roundtrips never ride into the next turn's request.
	o.messages = append(o.messages, chat.Message{Role: "assistant", Content: finalText})

	_ = o.recorder.LogLLMResponse(finalText)
	o.last = toCounts(turnUsage)
	o.cumulative = addCounts(o.cumulative, o.last)
	_ = o.recorder.LogTokenUsage(o.last, o.cumulative)

	o.drainRelay(ctx, ch)
	o.emit(ctx, ch, Event{Type: EventDone, Stats: TokenStats{Last: o.last, Cumulative: o.cumulative}})
}

// failTurnLocked restores the history to its pre-turn state, records the
// error in the trace and emits a terminal error event.
func (o *Orchestrator) failTurnLocked(ctx context.Context, ch chan<- Event, preTurnLen int, kind string, err error) {
	o.drainRelay(ctx, ch)
	_ = o.recorder.LogError(kind, err.Error(), "")
	o.messages = o.messages[:preTurnLen]
	o.emit(ctx, ch, Event{Type: EventError, Err: err})
}

func (o *Orchestrator) drainRelay(ctx context.Context, ch chan<- Event) {
	envs := o.relay.Drain()
	if len(envs) == 0 {
		return
	}
	o.emit(ctx, ch, Event{Type: EventToolCall, Envelopes: envs})
}
