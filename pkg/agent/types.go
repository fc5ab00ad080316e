// Package agent provides the high-level Agent type: a state machine that
// streams assistant turns from a provider, executes tool calls, interleaves
// steering and follow-up messages, and emits a lifecycle event stream.
package agent

import (
	"errors"
	"log/slog"

	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/tools"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType identifies an agent lifecycle event. When a session log is
// attached, every event except tool_execution_update is also appended to it
// under the same kind string.
type EventType string

const (
	// Lifecycle
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"

	// Turn = one assistant response + any resulting tool calls/results
	EventTurnStart EventType = "turn_start"
	EventTurnEnd   EventType = "turn_end"

	// Message lifecycle
	EventMessageStart  EventType = "message_start"
	EventMessageUpdate EventType = "message_update"
	EventMessageEnd    EventType = "message_end"

	// Tool execution. tool_execution_update carries transient partial
	// results and is never persisted.
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
)

// Event carries a lifecycle notification from the agent loop.
type Event struct {
	Type EventType

	// Set for message_* and tool_execution_end events.
	Message ai.Message

	// Set for message_update.
	StreamEvent *ai.StreamEvent

	// Set for tool_execution_* events.
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult *tools.Result
	IsError    bool

	// Set for turn_end.
	ToolResults  []ai.ToolResultMessage
	ContextUsage ContextUsage

	// Set for agent_end: every message committed during this call.
	NewMessages []ai.Message
}

// ContextUsage carries a snapshot of estimated context token usage after a turn.
type ContextUsage struct {
	// Estimated total tokens in the current context window.
	Tokens int
	// Tokens reported by the last assistant message's usage object.
	UsageTokens int
	// Estimated tokens added after the last usage report (tool results, etc.)
	TrailingTokens int
}

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

// QueueMode controls how many queued messages one polling pass takes.
type QueueMode string

const (
	// QueueModeAll drains the whole queue into the next turn.
	QueueModeAll QueueMode = "all"
	// QueueModeOne pops exactly one message per polling pass.
	QueueModeOne QueueMode = "one-at-a-time"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrBusy is returned when a prompt arrives while a call is streaming.
	ErrBusy = errors.New("agent: already streaming; use Steer or FollowUp")

	// ErrNothingToContinue is returned by Continue when there is no message
	// history, or the tail is an assistant message and both queues are empty.
	ErrNothingToContinue = errors.New("agent: nothing to continue from")

	// ErrEmptyPrompt is returned when a prompt carries no non-whitespace
	// text and no images.
	ErrEmptyPrompt = errors.New("agent: empty prompt")
)

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is a read-only snapshot of the agent.
type State struct {
	SystemPrompt     string
	Model            string
	Provider         string
	Messages         []ai.Message
	IsStreaming      bool
	PendingToolCalls map[string]bool // callID → in-flight
	Error            string
	ContextTokens    int // estimated context size after the last turn
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds the per-call configuration bundle.
type Config struct {
	// TransformContext optionally prunes / enriches the history before the
	// provider call. It must preserve turn-role ordering and should honor
	// ctx cancellation. Default: ai.TransformContext with the model's
	// vision capability.
	TransformContext func(msgs []ai.Message) ([]ai.Message, error)

	// GetAPIKey resolves the API key for the named provider at call time
	// (for dynamic or expiring keys). A returned error or empty key leaves
	// StreamOptions.APIKey untouched.
	GetAPIKey func(provider string) (string, error)

	// StreamOptions passed to the provider. The agent's thinking level (set
	// via SetThinkingLevel) overrides StreamOptions.ThinkingLevel when set.
	StreamOptions ai.StreamOptions
}

// defaultLogger discards everything; embedders pass a real logger via Options.
func defaultLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
