// Package bedrock implements ai.Provider for Amazon Bedrock's ConverseStream API.
//
// Authentication is handled by the AWS SDK v2 credential chain:
//  1. AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY (+ optional AWS_SESSION_TOKEN)
//  2. AWS_PROFILE — named profile from ~/.aws/credentials
//  3. ~/.aws/credentials default profile
//  4. IAM instance roles / ECS task roles / IRSA
//
// Configure in agentloop.yaml:
//
//	provider: bedrock
//	model:    us.anthropic.claude-sonnet-4-5-20250929-v1:0
//	region:   us-east-1      # optional; falls back to AWS_DEFAULT_REGION
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brdoc "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/calderhq/agentloop/pkg/ai"
	"github.com/calderhq/agentloop/pkg/ai/models"
	"github.com/calderhq/agentloop/pkg/ai/partialjson"
)

// Provider is the Amazon Bedrock streaming provider.
type Provider struct {
	Region  string
	Profile string
}

func New(region, profile string) *Provider {
	return &Provider{Region: region, Profile: profile}
}

func (p *Provider) Name() string { return "bedrock" }

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
			Provider:  "bedrock",
			APIFlavor: "bedrock-converse",
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
	client, err := p.newClient(ctx)
	if err != nil {
		return fmt.Errorf("bedrock: build client: %w", err)
	}

	input, err := p.buildInput(model, llmCtx, opts)
	if err != nil {
		return fmt.Errorf("bedrock: build input: %w", err)
	}

	resp, err := client.ConverseStream(ctx, input)
	if err != nil {
		return fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	pricing := models.PricingFor(model)

	events <- ai.StreamEvent{Type: ai.StreamEventStart, Partial: snapshotMsg(partial)}

	dec := &converseDecoder{
		partial: partial,
		pricing: pricing,
		blocks:  map[int32]*blockState{},
		emit:    func(e ai.StreamEvent) { events <- e },
	}

	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		if err := dec.handle(event); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("bedrock: stream error: %w", err)
	}

	if partial.StopReason == "" {
		partial.StopReason = ai.StopReasonStop
	}

	events <- ai.StreamEvent{Type: ai.StreamEventDone, Partial: snapshotMsg(partial)}
	return nil
}

// ---------------------------------------------------------------------------
// Stream decoding
// ---------------------------------------------------------------------------

// blockState tracks one provider content block, keyed by ContentBlockIndex.
type blockState struct {
	kind    string // "text" | "thinking" | "tool_call" | "" (undetermined)
	idx     int    // normalized 0-based index, in open order
	partIdx int    // index in partial.Content
	args    string // accumulated tool-use args fragment
	opened  bool   // *_start emitted
}

// converseDecoder folds ConverseStream output events into the growing partial
// message and the normalized event grammar.
type converseDecoder struct {
	partial *ai.AssistantMessage
	pricing ai.Pricing
	blocks  map[int32]*blockState
	nextIdx int
	emit    func(ai.StreamEvent)
}

func (d *converseDecoder) send(t ai.StreamEventType, idx int, delta, sig string) {
	d.emit(ai.StreamEvent{
		Type:       t,
		BlockIndex: idx,
		Partial:    snapshotMsg(d.partial),
		Delta:      delta,
		Signature:  sig,
	})
}

// handle decodes one stream output event. A returned error is fatal for the
// stream.
func (d *converseDecoder) handle(event types.ConverseStreamOutput) error {
	partial := d.partial
	switch ev := event.(type) {

	// ── ContentBlockStart ──────────────────────────────────────────────
	case *types.ConverseStreamOutputMemberContentBlockStart:
		cbIdx := aws.ToInt32(ev.Value.ContentBlockIndex)
		bs := &blockState{idx: d.nextIdx}
		d.nextIdx++
		d.blocks[cbIdx] = bs
		if s, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			tu := s.Value
			partial.Content = append(partial.Content, ai.ToolCall{
				Type:      "tool_call",
				ID:        aws.ToString(tu.ToolUseId),
				Name:      aws.ToString(tu.Name),
				Arguments: map[string]any{},
			})
			bs.kind = "tool_call"
			bs.partIdx = len(partial.Content) - 1
			bs.opened = true
			d.send(ai.StreamEventToolCallStart, bs.idx, aws.ToString(tu.Name), "")
		}
		// Text and reasoning blocks start without a typed Start member;
		// the kind is pinned on the first delta.

	// ── ContentBlockDelta ──────────────────────────────────────────────
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		cbIdx := aws.ToInt32(ev.Value.ContentBlockIndex)
		bs := d.blocks[cbIdx]
		if bs == nil {
			// Some model families skip ContentBlockStart for block 0.
			bs = &blockState{idx: d.nextIdx}
			d.nextIdx++
			d.blocks[cbIdx] = bs
		}
		switch delta := ev.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			if !bs.opened {
				partial.Content = append(partial.Content, ai.TextContent{Type: "text"})
				bs.kind = "text"
				bs.partIdx = len(partial.Content) - 1
				bs.opened = true
				d.send(ai.StreamEventTextStart, bs.idx, "", "")
			}
			tb := partial.Content[bs.partIdx].(ai.TextContent)
			tb.Text += delta.Value
			partial.Content[bs.partIdx] = tb
			d.send(ai.StreamEventTextDelta, bs.idx, delta.Value, "")

		case *types.ContentBlockDeltaMemberReasoningContent:
			if !bs.opened {
				partial.Content = append(partial.Content, ai.ThinkingContent{Type: "thinking"})
				bs.kind = "thinking"
				bs.partIdx = len(partial.Content) - 1
				bs.opened = true
				d.send(ai.StreamEventThinkingStart, bs.idx, "", "")
			}
			th := partial.Content[bs.partIdx].(ai.ThinkingContent)
			switch rd := delta.Value.(type) {
			case *types.ReasoningContentBlockDeltaMemberText:
				th.Thinking += rd.Value
				partial.Content[bs.partIdx] = th
				d.send(ai.StreamEventThinkingDelta, bs.idx, rd.Value, "")
			case *types.ReasoningContentBlockDeltaMemberSignature:
				th.Signature += rd.Value
				partial.Content[bs.partIdx] = th
				d.send(ai.StreamEventThinkingDelta, bs.idx, "", rd.Value)
			}

		case *types.ContentBlockDeltaMemberToolUse:
			// Tool blocks are only ever opened by a ContentBlockStart with a
			// tool-use member; a delta without one is malformed input, not a
			// lazily-opened block.
			if bs.kind != "tool_call" {
				return fmt.Errorf("bedrock: tool-use delta for block %d with no tool-use start", cbIdx)
			}
			frag := aws.ToString(delta.Value.Input)
			bs.args += frag
			tc := partial.Content[bs.partIdx].(ai.ToolCall)
			tc.Arguments = partialjson.ParseObject(bs.args)
			partial.Content[bs.partIdx] = tc
			d.send(ai.StreamEventToolCallDelta, bs.idx, frag, "")
		}

	// ── ContentBlockStop ───────────────────────────────────────────────
	case *types.ConverseStreamOutputMemberContentBlockStop:
		cbIdx := aws.ToInt32(ev.Value.ContentBlockIndex)
		bs := d.blocks[cbIdx]
		if bs == nil || !bs.opened {
			return nil
		}
		switch bs.kind {
		case "text":
			d.send(ai.StreamEventTextEnd, bs.idx, "", "")
		case "thinking":
			d.send(ai.StreamEventThinkingEnd, bs.idx, "", "")
		case "tool_call":
			tc := partial.Content[bs.partIdx].(ai.ToolCall)
			tc.Arguments = partialjson.ParseObject(bs.args)
			partial.Content[bs.partIdx] = tc
			bs.args = ""
			d.send(ai.StreamEventToolCallEnd, bs.idx, "", "")
		}

	// ── MessageStop ────────────────────────────────────────────────────
	case *types.ConverseStreamOutputMemberMessageStop:
		reason, errText, err := mapStopReason(ev.Value.StopReason)
		if err != nil {
			return err
		}
		partial.StopReason = reason
		if errText != "" {
			partial.ErrorMessage = errText
		}

	// ── Metadata (usage) ───────────────────────────────────────────────
	case *types.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			u := ev.Value.Usage
			partial.Usage.Input = int(aws.ToInt32(u.InputTokens))
			partial.Usage.Output = int(aws.ToInt32(u.OutputTokens))
			partial.Usage.CacheRead = int(aws.ToInt32(u.CacheReadInputTokens))
			partial.Usage.CacheWrite = int(aws.ToInt32(u.CacheWriteInputTokens))
			ai.ApplyUsage(&partial.Usage, d.pricing)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Client + input building
// ---------------------------------------------------------------------------

func (p *Provider) newClient(ctx context.Context) (*bedrockruntime.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if p.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(p.Region))
	}
	if p.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(p.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func (p *Provider) buildInput(model string, llmCtx ai.Context, opts ai.StreamOptions) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(model),
	}

	if llmCtx.SystemPrompt != "" {
		sysBlocks := []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: llmCtx.SystemPrompt},
		}
		// Bedrock has a single cache tier, so short and long retention both
		// become a CachePoint breakpoint.
		if opts.CacheRetention != "" && opts.CacheRetention != ai.CacheRetentionNone {
			sysBlocks = append(sysBlocks,
				&types.SystemContentBlockMemberCachePoint{
					Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
				},
			)
		}
		input.System = sysBlocks
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = models.MaxOutputFor(model)
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}

	ic := &types.InferenceConfiguration{}
	if opts.Temperature != nil {
		v := float32(*opts.Temperature)
		ic.Temperature = &v
	}

	// Extended reasoning rides in additionalModelRequestFields; the budget
	// counts against max_tokens, so grow the ceiling to fit.
	if fields, budget := thinkingFields(model, opts, maxTokens); fields != nil {
		input.AdditionalModelRequestFields = lazyDoc(fields)
		if budget > 0 && budget >= maxTokens {
			maxTokens = budget + 4096
		}
		ic.Temperature = nil
	}
	mt := int32(maxTokens)
	ic.MaxTokens = &mt
	input.InferenceConfig = ic

	msgs, err := convertMessages(ai.TransformContext(llmCtx.Messages, ai.TransformOptions{
		SupportsVision: models.SupportsVision(model),
	}))
	if err != nil {
		return nil, err
	}
	input.Messages = msgs

	if len(llmCtx.Tools) > 0 {
		toolList := make([]types.Tool, 0, len(llmCtx.Tools))
		for _, t := range llmCtx.Tools {
			var schema map[string]any
			_ = json.Unmarshal(t.Parameters, &schema)
			toolList = append(toolList, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: lazyDoc(schema),
					},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{
			Tools:      toolList,
			ToolChoice: &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}},
		}
	}

	return input, nil
}

// thinkingFields builds the Claude-style thinking payload for Bedrock models
// that take a fixed budget, returning the budget for max_tokens adjustment.
func thinkingFields(model string, opts ai.StreamOptions, maxTokens int) (map[string]any, int) {
	level := opts.ThinkingLevel
	if level == "" || level == ai.ThinkingOff {
		return nil, 0
	}
	if !modelSupportsThinking(model) {
		return nil, 0
	}

	budget := opts.ThinkingBudgets.BudgetFor(level)
	if budget <= 0 {
		switch level {
		case ai.ThinkingMinimal:
			budget = 1024
		case ai.ThinkingLow:
			budget = maxTokens / 8
		case ai.ThinkingMedium:
			budget = maxTokens / 4
		case ai.ThinkingHigh:
			budget = maxTokens / 2
		case ai.ThinkingXHigh:
			budget = maxTokens
		}
		if budget < 1024 {
			budget = 1024
		}
	}
	return map[string]any{
		"thinking": map[string]any{
			"type":          "enabled",
			"budget_tokens": budget,
		},
	}, budget
}

func modelSupportsThinking(model string) bool {
	if m := models.Lookup(model); m != nil {
		return m.SupportsThinking
	}
	return false
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

func convertMessages(msgs []ai.Message) ([]types.Message, error) {
	var out []types.Message
	for _, m := range msgs {
		switch msg := m.(type) {
		case ai.UserMessage:
			var blocks []types.ContentBlock
			for _, c := range msg.Content {
				switch blk := c.(type) {
				case ai.TextContent:
					blocks = append(blocks, &types.ContentBlockMemberText{Value: blk.Text})
				case ai.ImageContent:
					imgBytes, _ := base64.StdEncoding.DecodeString(blk.Data)
					blocks = append(blocks, &types.ContentBlockMemberImage{
						Value: types.ImageBlock{
							Format: imageFormat(blk.MIMEType),
							Source: &types.ImageSourceMemberBytes{Value: imgBytes},
						},
					})
				}
			}
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: blocks})

		case ai.AssistantMessage:
			var blocks []types.ContentBlock
			for _, c := range msg.Content {
				switch blk := c.(type) {
				case ai.TextContent:
					blocks = append(blocks, &types.ContentBlockMemberText{Value: blk.Text})
				case ai.ThinkingContent:
					blocks = append(blocks, &types.ContentBlockMemberReasoningContent{
						Value: &types.ReasoningContentBlockMemberReasoningText{
							Value: types.ReasoningTextBlock{
								Text:      aws.String(blk.Thinking),
								Signature: aws.String(blk.Signature),
							},
						},
					})
				case ai.ToolCall:
					blocks = append(blocks, &types.ContentBlockMemberToolUse{
						Value: types.ToolUseBlock{
							ToolUseId: aws.String(blk.ID),
							Name:      aws.String(blk.Name),
							Input:     lazyDoc(blk.Arguments),
						},
					})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})

		case ai.ToolResultMessage:
			var content []types.ToolResultContentBlock
			for _, c := range msg.Content {
				switch blk := c.(type) {
				case ai.TextContent:
					content = append(content, &types.ToolResultContentBlockMemberText{Value: blk.Text})
				case ai.ImageContent:
					imgBytes, _ := base64.StdEncoding.DecodeString(blk.Data)
					content = append(content, &types.ToolResultContentBlockMemberImage{
						Value: types.ImageBlock{
							Format: imageFormat(blk.MIMEType),
							Source: &types.ImageSourceMemberBytes{Value: imgBytes},
						},
					})
				}
			}
			status := types.ToolResultStatusSuccess
			if msg.IsError {
				status = types.ToolResultStatusError
			}
			toolResultBlock := &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Status:    status,
					Content:   content,
				},
			}
			// Bedrock requires all tool results in the same user message
			if len(out) > 0 && out[len(out)-1].Role == types.ConversationRoleUser {
				out[len(out)-1].Content = append(out[len(out)-1].Content, toolResultBlock)
			} else {
				out = append(out, types.Message{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{toolResultBlock},
				})
			}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func snapshotMsg(msg *ai.AssistantMessage) *ai.AssistantMessage {
	cp := *msg
	cp.Content = make([]ai.ContentBlock, len(msg.Content))
	copy(cp.Content, msg.Content)
	return &cp
}

// mapStopReason translates Converse stop reasons by a fixed table. Reasons
// that end the turn abnormally also carry the error text to stamp on the
// message.
func mapStopReason(r types.StopReason) (ai.StopReason, string, error) {
	switch r {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return ai.StopReasonStop, "", nil
	case types.StopReasonMaxTokens:
		return ai.StopReasonLength, "", nil
	case types.StopReasonToolUse:
		return ai.StopReasonTool, "", nil
	case types.StopReasonGuardrailIntervened:
		return ai.StopReasonError, "response blocked by a guardrail", nil
	case types.StopReasonContentFiltered:
		return ai.StopReasonError, "response content was filtered", nil
	}
	return "", "", fmt.Errorf("bedrock: unknown stop reason %q", r)
}

func imageFormat(mimeType string) types.ImageFormat {
	switch mimeType {
	case "image/jpeg":
		return types.ImageFormatJpeg
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatPng
	}
}

// lazyDoc wraps a map[string]any as a Bedrock document.Interface.
func lazyDoc(m map[string]any) brdoc.Interface {
	return brdoc.NewLazyDocument(m)
}
