// Package ai defines the core types for LLM interactions: messages, content
// blocks, tool definitions, streaming events, and the provider interface.
package ai

import "encoding/json"

// ---------------------------------------------------------------------------
// Content blocks
// ---------------------------------------------------------------------------

type TextContent struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
	// Signature is an opaque provider token attached to some text blocks.
	// When present it must be echoed back verbatim on the next turn.
	Signature string `json:"signature,omitempty"`
}

type ImageContent struct {
	Type     string `json:"type"`      // "image"
	Data     string `json:"data"`      // base64
	MIMEType string `json:"mime_type"` // e.g. "image/png"
}

type ThinkingContent struct {
	Type     string `json:"type"` // "thinking"
	Thinking string `json:"thinking"`
	// Signature is the provider-issued proof for this reasoning block.
	// Blocks without a signature are demoted to text when echoed back.
	Signature string `json:"signature,omitempty"`
}

type ToolCall struct {
	Type      string         `json:"type"`      // "tool_call"
	ID        string         `json:"id"`        // provider-issued call ID, unique per message
	Name      string         `json:"name"`      // tool name
	Arguments map[string]any `json:"arguments"` // parsed JSON args
	// ThoughtSignature carries the opaque reasoning token some providers
	// attach to tool calls; echoed back verbatim.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonTool    StopReason = "tool_use"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// Terminal reports whether r ends an agent call (no further turns follow).
func (r StopReason) Terminal() bool {
	return r == StopReasonError || r == StopReasonAborted
}

// UserMessage is a message from the user (human turn).
type UserMessage struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp"` // unix ms
}

func (m UserMessage) GetRole() Role { return m.Role }

// AssistantMessage is a response from the LLM.
type AssistantMessage struct {
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	APIFlavor    string         `json:"api,omitempty"` // wire protocol, e.g. "anthropic-messages"
	Usage        Usage          `json:"usage"`
	StopReason   StopReason     `json:"stop_reason"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}

func (m AssistantMessage) GetRole() Role { return m.Role }

// ToolCalls returns the tool-call blocks in content order.
func (m AssistantMessage) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, c := range m.Content {
		if tc, ok := c.(ToolCall); ok {
			out = append(out, tc)
		}
	}
	return out
}

// ToolResultMessage carries the result of a tool call back to the LLM.
type ToolResultMessage struct {
	Role       Role           `json:"role"`
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Content    []ContentBlock `json:"content"`
	Details    any            `json:"details,omitempty"`
	IsError    bool           `json:"is_error"`
	Timestamp  int64          `json:"timestamp"`
}

func (m ToolResultMessage) GetRole() Role { return m.Role }

// Message is the union type — all three message kinds implement this.
type Message interface {
	GetRole() Role
}

// ContentBlock is an interface implemented by TextContent, ImageContent,
// ThinkingContent, and ToolCall.
type ContentBlock interface {
	contentBlock()
}

func (TextContent) contentBlock()     {}
func (ImageContent) contentBlock()    {}
func (ThinkingContent) contentBlock() {}
func (ToolCall) contentBlock()        {}

// ---------------------------------------------------------------------------
// Usage / cost
// ---------------------------------------------------------------------------

type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
	Total      float64 `json:"total"`
}

type Usage struct {
	Input       int  `json:"input"`
	Output      int  `json:"output"`
	CacheRead   int  `json:"cache_read"`
	CacheWrite  int  `json:"cache_write"`
	TotalTokens int  `json:"total_tokens"`
	Cost        Cost `json:"cost"`
}

// ---------------------------------------------------------------------------
// Thinking and caching knobs
// ---------------------------------------------------------------------------

// ThinkingLevel selects how much provider-side reasoning to request.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// ThinkingBudgets maps levels to token budgets for models that take a fixed
// thinking budget rather than an effort parameter. Zero entries fall back to
// defaults derived from the model's max output tokens.
type ThinkingBudgets struct {
	Minimal int `yaml:"minimal"`
	Low     int `yaml:"low"`
	Medium  int `yaml:"medium"`
	High    int `yaml:"high"`
	XHigh   int `yaml:"xhigh"`
}

// BudgetFor returns the caller-supplied budget for level, or 0 if unset.
func (b ThinkingBudgets) BudgetFor(level ThinkingLevel) int {
	switch level {
	case ThinkingMinimal:
		return b.Minimal
	case ThinkingLow:
		return b.Low
	case ThinkingMedium:
		return b.Medium
	case ThinkingHigh:
		return b.High
	case ThinkingXHigh:
		return b.XHigh
	}
	return 0
}

// CacheRetention controls how aggressively the provider caches the prompt
// prefix. "long" is only honored on the canonical provider endpoint and is
// downgraded to "short" elsewhere.
type CacheRetention string

const (
	CacheRetentionNone  CacheRetention = "none"
	CacheRetentionShort CacheRetention = "short"
	CacheRetentionLong  CacheRetention = "long"
)

// ---------------------------------------------------------------------------
// Tool definition (schema handed to the LLM)
// ---------------------------------------------------------------------------

// ToolDefinition describes a tool to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Label       string          `json:"label,omitempty"` // human-readable display name
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// ---------------------------------------------------------------------------
// Streaming events
// ---------------------------------------------------------------------------

// StreamEventType enumerates all events a provider can emit for one turn.
// The per-turn order is: start, then for each content block
// {text|thinking|tool_call}_start, zero or more *_delta, *_end, then exactly
// one of done or error. A terminal error implicitly closes any open block.
type StreamEventType string

const (
	// Lifecycle
	StreamEventStart StreamEventType = "start"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"

	// Text
	StreamEventTextStart StreamEventType = "text_start"
	StreamEventTextDelta StreamEventType = "text_delta"
	StreamEventTextEnd   StreamEventType = "text_end"

	// Thinking
	StreamEventThinkingStart StreamEventType = "thinking_start"
	StreamEventThinkingDelta StreamEventType = "thinking_delta"
	StreamEventThinkingEnd   StreamEventType = "thinking_end"

	// Tool calls
	StreamEventToolCallStart StreamEventType = "tool_call_start"
	StreamEventToolCallDelta StreamEventType = "tool_call_delta"
	StreamEventToolCallEnd   StreamEventType = "tool_call_end"
)

// StreamEvent is one normalized provider event.
//
// Partial is a snapshot of the in-progress assistant message reflecting
// everything decoded so far; it is safe to retain across events. Delta
// carries the exact incremental fragment for *_delta events: concatenating
// the deltas of a block reproduces its final content. Signature carries
// signature fragments on thinking_delta events; these accumulate in a
// buffer separate from the thinking text.
type StreamEvent struct {
	Type       StreamEventType
	BlockIndex int               // 0-based, in block-open order
	Partial    *AssistantMessage // latest partial snapshot
	Delta      string            // incremental text / thinking / args fragment
	Signature  string            // incremental signature fragment (thinking blocks)
	Error      error             // set on StreamEventError
}

// ---------------------------------------------------------------------------
// Context passed to the provider
// ---------------------------------------------------------------------------

// Context holds the full conversation state for one LLM call.
type Context struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// ---------------------------------------------------------------------------
// Stream options
// ---------------------------------------------------------------------------

type StreamOptions struct {
	Temperature     *float64
	MaxTokens       int
	APIKey          string
	ThinkingLevel   ThinkingLevel
	ThinkingBudgets ThinkingBudgets
	CacheRetention  CacheRetention
}
