package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/ai/models"
	"github.com/calderhq/agentloop/pkg/tools"
)

// runLoop is the core agentic loop:
//
//	IDLE → PREPARING → STREAMING → (TOOLING → POLLING → STREAMING)* → FINALIZING → IDLE
//
// Each iteration streams one assistant turn, executes any tool calls it
// requested, and polls the steering / follow-up queues for the next turn's
// inputs. The loop stops when a turn ends without tool calls and both queues
// are empty, or on an error/aborted stop reason.
func (a *Agent) runLoop(ctx context.Context, newMsgs []ai.Message, cfg Config, drainSteeringFirst bool) error {
	a.emit(Event{Type: EventAgentStart}, nil)
	defer func() {
		a.emit(Event{Type: EventAgentEnd, NewMessages: a.snapshotMessages()}, nil)
	}()

	// Initial inputs commit inside the first turn so turn_start precedes
	// their message events. On continue with an assistant tail the queued
	// interjections take their place, steering ahead of follow-ups.
	pending := newMsgs
	if drainSteeringFirst {
		pending = append(pending, a.poll()...)
	}

	for {
		a.emit(Event{Type: EventTurnStart}, nil)
		for _, m := range pending {
			a.commitMessage(m)
		}
		pending = nil

		assistant, err := a.streamTurn(ctx, cfg)
		if err != nil {
			// Context-build failure (transform hook). No turn happened.
			a.setError(err.Error())
			a.emit(Event{Type: EventTurnEnd}, nil)
			return err
		}

		switch assistant.StopReason {
		case ai.StopReasonError, ai.StopReasonAborted:
			// Keep the partial only when it has at least one non-empty
			// block; otherwise commit a degenerate message carrying just
			// the stop reason and error text.
			if !hasNonEmptyBlock(assistant) {
				assistant.Content = nil
			}
			a.setError(assistant.ErrorMessage)
			a.commitAssistant(assistant)
			a.emit(Event{Type: EventTurnEnd, ContextUsage: a.usage()}, nil)
			return nil

		case ai.StopReasonTool:
			a.commitAssistant(assistant)
			results := a.runTools(ctx, assistant.ToolCalls())
			if ctx.Err() != nil {
				// Aborted mid-tooling; results were discarded.
				a.emit(Event{Type: EventTurnEnd, ContextUsage: a.usage()}, nil)
				return nil
			}
			a.emit(Event{Type: EventTurnEnd, ToolResults: results, ContextUsage: a.usage()}, nil)
			// Tool turns always continue; queued interjections become the
			// next turn's extra inputs.
			pending = a.poll()
			continue

		default: // stop, length
			// A whitespace-only assistant message is not committed.
			if hasNonEmptyBlock(assistant) {
				a.commitAssistant(assistant)
			}
			a.emit(Event{Type: EventTurnEnd, ContextUsage: a.usage()}, nil)
			pending = a.poll()
			if len(pending) == 0 {
				return nil
			}
		}
	}
}

// poll consults the steering queue, then the follow-up queue, each per its
// configured dispatch mode.
func (a *Agent) poll() []ai.Message {
	if msgs := a.popSteering(); len(msgs) > 0 {
		return msgs
	}
	return a.popFollowUp()
}

// ---------------------------------------------------------------------------
// Streaming one turn
// ---------------------------------------------------------------------------

// streamTurn builds the provider context, streams one assistant response,
// and republishes adapter events as message_update. The returned message is
// never nil: provider failures surface as stop-reason error/aborted on it.
func (a *Agent) streamTurn(ctx context.Context, cfg Config) (ai.AssistantMessage, error) {
	a.mu.RLock()
	model := a.model
	provider := a.provider
	systemPrompt := a.systemPrompt
	registry := a.tools
	level := a.thinkingLevel
	budgets := a.thinkingBudgets
	a.mu.RUnlock()

	history := a.snapshotMessages()
	if cfg.TransformContext != nil {
		if err := ctx.Err(); err != nil {
			return ai.AssistantMessage{}, err
		}
		var err error
		history, err = cfg.TransformContext(history)
		if err != nil {
			return ai.AssistantMessage{}, fmt.Errorf("transform context: %w", err)
		}
	} else {
		history = ai.TransformContext(history, ai.TransformOptions{
			SupportsVision: models.SupportsVision(model),
		})
	}

	llmCtx := ai.Context{
		SystemPrompt: systemPrompt,
		Messages:     history,
		Tools:        registry.Definitions(),
	}

	opts := cfg.StreamOptions
	if level != "" {
		opts.ThinkingLevel = level
	}
	if opts.ThinkingBudgets == (ai.ThinkingBudgets{}) {
		opts.ThinkingBudgets = budgets
	}
	if cfg.GetAPIKey != nil {
		if key, err := cfg.GetAPIKey(provider.Name()); err == nil && key != "" {
			opts.APIKey = key
		}
	}

	events, wait := provider.Stream(ctx, model, llmCtx, opts)

	partial := &ai.AssistantMessage{
		Role:      ai.RoleAssistant,
		Model:     model,
		Provider:  provider.Name(),
		Timestamp: time.Now().UnixMilli(),
	}
	a.emit(Event{Type: EventMessageStart, Message: partial}, nil)

	for ev := range events {
		if ev.Partial != nil {
			partial = ev.Partial
		}
		switch ev.Type {
		case ai.StreamEventStart, ai.StreamEventDone, ai.StreamEventError:
			// Terminal bookkeeping happens on wait(); start carries no delta.
		default:
			a.emit(Event{Type: EventMessageUpdate, Message: partial, StreamEvent: &ev},
				updatePayload(ev))
		}
	}

	// On provider failure wait() returns the partial with StopReason
	// (error or aborted) and ErrorMessage already stamped; the loop records
	// the turn rather than failing the call.
	final, _ := wait()
	if final == nil {
		final = partial
	}
	return *final, nil
}

// updatePayload is the compact persisted form of one stream delta.
func updatePayload(ev ai.StreamEvent) json.RawMessage {
	raw, err := json.Marshal(struct {
		Event      ai.StreamEventType `json:"event"`
		BlockIndex int                `json:"block_index"`
		Delta      string             `json:"delta,omitempty"`
	}{ev.Type, ev.BlockIndex, ev.Delta})
	if err != nil {
		return nil
	}
	return raw
}

// ---------------------------------------------------------------------------
// Tool execution
// ---------------------------------------------------------------------------

// runTools dispatches all tool calls of one assistant message in parallel and
// commits their results in original call order. Returns nil when the context
// was cancelled before the batch finished.
func (a *Agent) runTools(ctx context.Context, calls []ai.ToolCall) []ai.ToolResultMessage {
	a.mu.RLock()
	runner := a.runner
	a.mu.RUnlock()

	a.mu.Lock()
	for _, c := range calls {
		a.pendingCalls[c.ID] = true
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		for _, c := range calls {
			delete(a.pendingCalls, c.ID)
		}
		a.mu.Unlock()
	}()

	for _, c := range calls {
		payload, _ := json.Marshal(struct {
			ToolCallID string         `json:"tool_call_id"`
			ToolName   string         `json:"tool_name"`
			Arguments  map[string]any `json:"arguments,omitempty"`
		}{c.ID, c.Name, c.Arguments})
		a.emit(Event{
			Type:       EventToolExecutionStart,
			ToolCallID: c.ID,
			ToolName:   c.Name,
			ToolArgs:   c.Arguments,
		}, payload)
	}

	onUpdate := func(call ai.ToolCall, partial tools.Result) {
		p := partial
		a.emit(Event{
			Type:       EventToolExecutionUpdate,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolArgs:   call.Arguments,
			ToolResult: &p,
		}, nil)
	}

	results := runner.ExecuteAll(ctx, calls, onUpdate)
	if results == nil {
		return nil
	}

	for _, r := range results {
		a.appendToHistory(r)
		a.persistMessage(EventToolExecutionEnd, r)
		a.broadcast(Event{
			Type:       EventToolExecutionEnd,
			Message:    r,
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
			ToolResult: &tools.Result{Content: r.Content, Details: r.Details},
			IsError:    r.IsError,
		})
	}
	return results
}

// ---------------------------------------------------------------------------
// Commit and emit helpers
// ---------------------------------------------------------------------------

// commitMessage appends a user-side message (prompt, steering, follow-up) to
// the history and emits its start/end pair.
func (a *Agent) commitMessage(m ai.Message) {
	m = derefMessage(m)
	a.appendToHistory(m)
	a.emit(Event{Type: EventMessageStart, Message: m}, nil)
	a.persistMessage(EventMessageEnd, m)
	a.broadcast(Event{Type: EventMessageEnd, Message: m})
}

// commitAssistant appends a streamed assistant message. message_start was
// already emitted when streaming began.
func (a *Agent) commitAssistant(m ai.AssistantMessage) {
	a.appendToHistory(m)
	a.persistMessage(EventMessageEnd, m)
	a.broadcast(Event{Type: EventMessageEnd, Message: m})
}

func (a *Agent) appendToHistory(m ai.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, derefMessage(m))
	a.mu.Unlock()
}

// emit broadcasts an event and, for persistable kinds, appends it to the
// attached session log. Append failures never interrupt the loop.
func (a *Agent) emit(e Event, payload json.RawMessage) {
	a.broadcast(e)
	if a.sess == nil || e.Type == EventToolExecutionUpdate {
		return
	}
	if _, err := a.sess.Append(string(e.Type), payload); err != nil {
		a.logger.Warn("session append failed", "kind", e.Type, "error", err)
	}
}

// persistMessage appends a message-bearing event kind to the session log.
// The matching broadcast is done by the caller.
func (a *Agent) persistMessage(kind EventType, m ai.Message) {
	if a.sess == nil {
		return
	}
	if _, err := a.sess.AppendMessage(string(kind), m); err != nil {
		a.logger.Warn("session append failed", "kind", kind, "error", err)
	}
}

func (a *Agent) setError(msg string) {
	a.mu.Lock()
	a.errMsg = msg
	a.mu.Unlock()
}

func (a *Agent) usage() ContextUsage {
	return EstimateContextTokens(a.snapshotMessages())
}

// hasNonEmptyBlock reports whether an assistant message carries any content
// worth keeping: non-whitespace text or thinking, or a tool call.
func hasNonEmptyBlock(m ai.AssistantMessage) bool {
	for _, b := range m.Content {
		switch blk := b.(type) {
		case ai.TextContent:
			if strings.TrimSpace(blk.Text) != "" {
				return true
			}
		case ai.ThinkingContent:
			if strings.TrimSpace(blk.Thinking) != "" {
				return true
			}
		case ai.ToolCall:
			return true
		}
	}
	return false
}
