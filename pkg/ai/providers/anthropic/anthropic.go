// Package anthropic implements ai.Provider for the Anthropic Messages API
// (streaming via SSE).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/ai/models"
	"github.com/calderhq/agentloop/pkg/ai/partialjson"
	"github.com/calderhq/agentloop/pkg/ai/sse"
)

const defaultBaseURL = "https://api.anthropic.com/v1"
const canonicalHost = "https://api.anthropic.com"
const anthropicVersion = "2023-06-01"

// Provider is the Anthropic streaming provider.
type Provider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Provider. An empty baseURL selects the canonical endpoint.
func New(baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *Provider) Name() string { return "anthropic" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Thinking (assistant)
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	// Tool use (assistant)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// Tool result (user)
	ToolUseID string        `json:"tool_use_id,omitempty"`
	Content   []wireContent `json:"content,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
	// Image
	Source *wireImageSource `json:"source,omitempty"`
	// Prompt caching
	CacheControl *wireCacheCtrl `json:"cache_control,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // "image/png"
	Data      string `json:"data"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireThinking struct {
	Type         string `json:"type"`                    // "enabled" or "adaptive"
	BudgetTokens int    `json:"budget_tokens,omitempty"` // for budget-based thinking
	Effort       string `json:"effort,omitempty"`        // for adaptive thinking
}

type wireSystemBlock struct {
	Type         string         `json:"type"` // "text"
	Text         string         `json:"text"`
	CacheControl *wireCacheCtrl `json:"cache_control,omitempty"`
}

type wireCacheCtrl struct {
	Type string `json:"type"`          // "ephemeral"
	TTL  string `json:"ttl,omitempty"` // "1h" for long retention
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      any           `json:"system,omitempty"` // string or []wireSystemBlock
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	Thinking    *wireThinking `json:"thinking,omitempty"`
}

// SSE event payloads
type evContentBlockStart struct {
	Index        int         `json:"index"`
	ContentBlock wireContent `json:"content_block"`
}

type evContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type evMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type evMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type evError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// Thinking helpers
// ---------------------------------------------------------------------------

// buildThinking constructs the thinking wire object (or nil if thinking is
// off). For budget-based models it returns the budget so the caller can grow
// max_tokens to fit.
func buildThinking(modelID string, opts ai.StreamOptions, maxTokens int) (*wireThinking, int) {
	level := opts.ThinkingLevel
	if level == "" || level == ai.ThinkingOff {
		return nil, 0
	}

	if models.AdaptiveThinking(modelID) {
		return &wireThinking{Type: "adaptive", Effort: mapEffort(level)}, 0
	}

	budget := opts.ThinkingBudgets.BudgetFor(level)
	if budget <= 0 {
		budget = defaultBudget(level, maxTokens)
	}
	return &wireThinking{Type: "enabled", BudgetTokens: budget}, budget
}

func mapEffort(level ai.ThinkingLevel) string {
	switch level {
	case ai.ThinkingMinimal, ai.ThinkingLow:
		return "low"
	case ai.ThinkingMedium:
		return "medium"
	case ai.ThinkingHigh:
		return "high"
	case ai.ThinkingXHigh:
		return "max"
	default:
		return "high"
	}
}

// defaultBudget derives a thinking budget from the per-turn output ceiling.
func defaultBudget(level ai.ThinkingLevel, maxTokens int) int {
	var b int
	switch level {
	case ai.ThinkingMinimal:
		b = 1024
	case ai.ThinkingLow:
		b = maxTokens / 8
	case ai.ThinkingMedium:
		b = maxTokens / 4
	case ai.ThinkingHigh:
		b = maxTokens / 2
	case ai.ThinkingXHigh:
		b = maxTokens
	}
	if b < 1024 {
		b = 1024
	}
	return b
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *Provider) Stream(
	ctx context.Context,
	model string,
	llmCtx ai.Context,
	opts ai.StreamOptions,
) (<-chan ai.StreamEvent, func() (*ai.AssistantMessage, error)) {
	events := make(chan ai.StreamEvent, 64)
	var finalMsg *ai.AssistantMessage
	var finalErr error
	done := make(chan struct{})

	go func() {
		defer close(events)
		defer close(done)

		partial := &ai.AssistantMessage{
			Role:      ai.RoleAssistant,
			Model:     model,
			Provider:  "anthropic",
			APIFlavor: "anthropic-messages",
			Timestamp: time.Now().UnixMilli(),
		}

		err := p.stream(ctx, model, llmCtx, opts, partial, events)
		if err != nil {
			if ctx.Err() != nil {
				partial.StopReason = ai.StopReasonAborted
				err = context.Cause(ctx)
			} else {
				partial.StopReason = ai.StopReasonError
			}
			partial.ErrorMessage = err.Error()
			events <- ai.StreamEvent{Type: ai.StreamEventError, Partial: snapshotMsg(partial), Error: err}
			finalMsg, finalErr = partial, err
			return
		}
		if partial.StopReason == "" {
			partial.StopReason = ai.StopReasonStop
		}
		finalMsg = partial
	}()

	return events, func() (*ai.AssistantMessage, error) {
		<-done
		return finalMsg, finalErr
	}
}

func (p *Provider) stream(
	ctx context.Context,
	model string,
	llmCtx ai.Context,
	opts ai.StreamOptions,
	partial *ai.AssistantMessage,
	events chan<- ai.StreamEvent,
) error {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = models.MaxOutputFor(model)
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}

	req := wireRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Stream:      true,
		Temperature: opts.Temperature,
	}

	// Thinking / extended reasoning. Budget thinking counts against
	// max_tokens, so grow the ceiling to leave room for visible output.
	thinking, budget := buildThinking(model, opts, maxTokens)
	if thinking != nil {
		req.Thinking = thinking
		if budget > 0 && budget >= req.MaxTokens {
			req.MaxTokens = budget + 4096
		}
		// Budget thinking rejects explicit temperature.
		if thinking.Type == "enabled" {
			req.Temperature = nil
		}
	}

	// Long retention is only honored on the canonical endpoint.
	retention := opts.CacheRetention
	if retention == ai.CacheRetentionLong && !strings.HasPrefix(p.BaseURL, canonicalHost) {
		retention = ai.CacheRetentionShort
	}
	cacheCtrl := cacheControlFor(retention)

	// System prompt — wrap in a cache block when caching is enabled.
	if llmCtx.SystemPrompt != "" {
		if cacheCtrl != nil {
			req.System = []wireSystemBlock{{Type: "text", Text: llmCtx.SystemPrompt, CacheControl: cacheCtrl}}
		} else {
			req.System = llmCtx.SystemPrompt
		}
	}

	msgs := ai.TransformContext(llmCtx.Messages, ai.TransformOptions{
		SupportsVision: models.SupportsVision(model),
	})
	for _, m := range msgs {
		wm, err := convertMessage(m)
		if err != nil {
			return err
		}
		req.Messages = append(req.Messages, wm)
	}

	// Cache breakpoint on the last message promotes stable prefix caching.
	if cacheCtrl != nil && len(req.Messages) > 0 {
		last := &req.Messages[len(req.Messages)-1]
		if len(last.Content) > 0 {
			last.Content[len(last.Content)-1].CacheControl = cacheCtrl
		}
	}

	for _, t := range llmCtx.Tools {
		req.Tools = append(req.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", opts.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")
	if thinking != nil {
		httpReq.Header.Set("anthropic-beta", "interleaved-thinking-2025-05-14")
	}

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, string(b))
	}

	return decode(resp.Body, model, partial, events)
}

// decode drains the SSE body into normalized events, keeping partial as the
// always-current snapshot of the in-progress message.
func decode(body io.Reader, model string, partial *ai.AssistantMessage, events chan<- ai.StreamEvent) error {
	pricing := models.PricingFor(model)

	// blockState tracks one provider content block from start to stop.
	type blockState struct {
		kind    string // "text" | "thinking" | "tool_use"
		idx     int    // normalized 0-based block index, in open order
		partIdx int    // index into partial.Content
		args    string // accumulated tool-arguments fragment
	}
	blocks := map[int]*blockState{}
	nextIdx := 0

	emittedStart := false
	reader := sse.NewReader(body)

	send := func(t ai.StreamEventType, idx int, delta, sig string) {
		events <- ai.StreamEvent{
			Type:       t,
			BlockIndex: idx,
			Partial:    snapshotMsg(partial),
			Delta:      delta,
			Signature:  sig,
		}
	}

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("anthropic: sse read: %w", err)
		}
		if ev.Data == "" {
			continue
		}

		switch ev.Type {
		case "message_start":
			var ms evMessageStart
			if json.Unmarshal([]byte(ev.Data), &ms) == nil {
				partial.Usage.Input = ms.Message.Usage.InputTokens
				partial.Usage.Output = ms.Message.Usage.OutputTokens
				partial.Usage.CacheRead = ms.Message.Usage.CacheReadInputTokens
				partial.Usage.CacheWrite = ms.Message.Usage.CacheCreationInputTokens
				ai.ApplyUsage(&partial.Usage, pricing)
			}
			events <- ai.StreamEvent{Type: ai.StreamEventStart, Partial: snapshotMsg(partial)}
			emittedStart = true

		case "content_block_start":
			var cbs evContentBlockStart
			if json.Unmarshal([]byte(ev.Data), &cbs) != nil {
				continue
			}
			bs := &blockState{kind: cbs.ContentBlock.Type, idx: nextIdx}
			nextIdx++
			blocks[cbs.Index] = bs
			switch cbs.ContentBlock.Type {
			case "text":
				partial.Content = append(partial.Content, ai.TextContent{Type: "text"})
				bs.partIdx = len(partial.Content) - 1
				send(ai.StreamEventTextStart, bs.idx, "", "")
			case "thinking":
				partial.Content = append(partial.Content, ai.ThinkingContent{Type: "thinking"})
				bs.partIdx = len(partial.Content) - 1
				send(ai.StreamEventThinkingStart, bs.idx, "", "")
			case "tool_use":
				id := cbs.ContentBlock.ID
				if id == "" {
					id = "call_" + uuid.New().String()[:8]
				}
				partial.Content = append(partial.Content, ai.ToolCall{
					Type:      "tool_call",
					ID:        id,
					Name:      cbs.ContentBlock.Name,
					Arguments: map[string]any{},
				})
				bs.partIdx = len(partial.Content) - 1
				send(ai.StreamEventToolCallStart, bs.idx, cbs.ContentBlock.Name, "")
			}

		case "content_block_delta":
			var cbd evContentBlockDelta
			if json.Unmarshal([]byte(ev.Data), &cbd) != nil {
				continue
			}
			bs := blocks[cbd.Index]
			if bs == nil {
				continue
			}
			switch cbd.Delta.Type {
			case "text_delta":
				tb := partial.Content[bs.partIdx].(ai.TextContent)
				tb.Text += cbd.Delta.Text
				partial.Content[bs.partIdx] = tb
				send(ai.StreamEventTextDelta, bs.idx, cbd.Delta.Text, "")
			case "thinking_delta":
				th := partial.Content[bs.partIdx].(ai.ThinkingContent)
				th.Thinking += cbd.Delta.Thinking
				partial.Content[bs.partIdx] = th
				send(ai.StreamEventThinkingDelta, bs.idx, cbd.Delta.Thinking, "")
			case "signature_delta":
				// Signature fragments accumulate separately from the
				// thinking text and never appear in Delta.
				th := partial.Content[bs.partIdx].(ai.ThinkingContent)
				th.Signature += cbd.Delta.Signature
				partial.Content[bs.partIdx] = th
				send(ai.StreamEventThinkingDelta, bs.idx, "", cbd.Delta.Signature)
			case "input_json_delta":
				bs.args += cbd.Delta.PartialJSON
				tc := partial.Content[bs.partIdx].(ai.ToolCall)
				tc.Arguments = partialjson.ParseObject(bs.args)
				partial.Content[bs.partIdx] = tc
				send(ai.StreamEventToolCallDelta, bs.idx, cbd.Delta.PartialJSON, "")
			}

		case "content_block_stop":
			var idx struct {
				Index int `json:"index"`
			}
			if json.Unmarshal([]byte(ev.Data), &idx) != nil {
				break
			}
			bs := blocks[idx.Index]
			if bs == nil {
				break
			}
			switch bs.kind {
			case "text":
				send(ai.StreamEventTextEnd, bs.idx, "", "")
			case "thinking":
				send(ai.StreamEventThinkingEnd, bs.idx, "", "")
			case "tool_use":
				// Final authoritative parse; the scratch fragment is dropped.
				tc := partial.Content[bs.partIdx].(ai.ToolCall)
				tc.Arguments = partialjson.ParseObject(bs.args)
				partial.Content[bs.partIdx] = tc
				bs.args = ""
				send(ai.StreamEventToolCallEnd, bs.idx, "", "")
			}

		case "message_delta":
			var md evMessageDelta
			if json.Unmarshal([]byte(ev.Data), &md) == nil {
				if md.Delta.StopReason != "" {
					reason, errText, err := mapStopReason(md.Delta.StopReason)
					if err != nil {
						return err
					}
					partial.StopReason = reason
					if errText != "" {
						partial.ErrorMessage = errText
					}
				}
				partial.Usage.Output = md.Usage.OutputTokens
				ai.ApplyUsage(&partial.Usage, pricing)
			}

		case "message_stop":
			if !emittedStart {
				events <- ai.StreamEvent{Type: ai.StreamEventStart, Partial: snapshotMsg(partial)}
			}
			events <- ai.StreamEvent{Type: ai.StreamEventDone, Partial: snapshotMsg(partial)}

		case "error":
			var we evError
			if json.Unmarshal([]byte(ev.Data), &we) == nil && we.Error.Message != "" {
				return fmt.Errorf("anthropic: %s: %s", we.Error.Type, we.Error.Message)
			}
			return fmt.Errorf("anthropic: stream error: %s", ev.Data)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func cacheControlFor(r ai.CacheRetention) *wireCacheCtrl {
	switch r {
	case ai.CacheRetentionShort:
		return &wireCacheCtrl{Type: "ephemeral"}
	case ai.CacheRetentionLong:
		return &wireCacheCtrl{Type: "ephemeral", TTL: "1h"}
	}
	return nil
}

func convertMessage(m ai.Message) (wireMessage, error) {
	switch msg := m.(type) {
	case ai.UserMessage:
		var content []wireContent
		for _, c := range msg.Content {
			switch blk := c.(type) {
			case ai.TextContent:
				content = append(content, wireContent{Type: "text", Text: blk.Text})
			case ai.ImageContent:
				content = append(content, wireContent{
					Type:   "image",
					Source: &wireImageSource{Type: "base64", MediaType: blk.MIMEType, Data: blk.Data},
				})
			}
		}
		return wireMessage{Role: "user", Content: content}, nil

	case ai.AssistantMessage:
		var content []wireContent
		for _, c := range msg.Content {
			switch blk := c.(type) {
			case ai.TextContent:
				content = append(content, wireContent{Type: "text", Text: blk.Text})
			case ai.ThinkingContent:
				content = append(content, wireContent{
					Type:      "thinking",
					Thinking:  blk.Thinking,
					Signature: blk.Signature,
				})
			case ai.ToolCall:
				content = append(content, wireContent{
					Type:  "tool_use",
					ID:    blk.ID,
					Name:  blk.Name,
					Input: blk.Arguments,
				})
			}
		}
		return wireMessage{Role: "assistant", Content: content}, nil

	case ai.ToolResultMessage:
		var inner []wireContent
		for _, c := range msg.Content {
			switch blk := c.(type) {
			case ai.TextContent:
				inner = append(inner, wireContent{Type: "text", Text: blk.Text})
			case ai.ImageContent:
				inner = append(inner, wireContent{
					Type:   "image",
					Source: &wireImageSource{Type: "base64", MediaType: blk.MIMEType, Data: blk.Data},
				})
			}
		}
		return wireMessage{
			Role: "user",
			Content: []wireContent{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   inner,
				IsError:   msg.IsError,
			}},
		}, nil
	}

	return wireMessage{}, fmt.Errorf("anthropic: unsupported message type: %T", m)
}

func snapshotMsg(msg *ai.AssistantMessage) *ai.AssistantMessage {
	cp := *msg
	cp.Content = make([]ai.ContentBlock, len(msg.Content))
	copy(cp.Content, msg.Content)
	return &cp
}

// mapStopReason translates provider stop reasons by a fixed table. Reasons
// that end the turn abnormally also carry the error text to stamp on the
// message. Unknown reasons are a decoding error, not a silent passthrough.
func mapStopReason(s string) (ai.StopReason, string, error) {
	switch s {
	case "end_turn", "stop_sequence":
		return ai.StopReasonStop, "", nil
	case "max_tokens", "model_context_window_exceeded":
		return ai.StopReasonLength, "", nil
	case "tool_use":
		return ai.StopReasonTool, "", nil
	case "refusal", "sensitive":
		return ai.StopReasonError, "model declined to respond (" + s + ")", nil
	case "pause_turn":
		return ai.StopReasonError, "model paused the turn before completion", nil
	}
	return "", "", fmt.Errorf("anthropic: unknown stop reason %q", s)
}
