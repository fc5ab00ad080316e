package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/calderhq/agentloop/pkg/ai"
)

func TestConvertMessages_ToolResultsShareUserMessage(t *testing.T) {
	msgs := []ai.Message{
		ai.AssistantMessage{Role: ai.RoleAssistant, Content: []ai.ContentBlock{
			ai.ToolCall{Type: "tool_call", ID: "c1", Name: "a", Arguments: map[string]any{}},
			ai.ToolCall{Type: "tool_call", ID: "c2", Name: "b", Arguments: map[string]any{}},
		}},
		ai.ToolResultMessage{Role: ai.RoleToolResult, ToolCallID: "c1", ToolName: "a",
			Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: "r1"}}},
		ai.ToolResultMessage{Role: ai.RoleToolResult, ToolCallID: "c2", ToolName: "b", IsError: true,
			Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: "r2"}}},
	}

	out, err := convertMessages(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d wire messages, want 2 (assistant + merged user)", len(out))
	}
	if out[1].Role != types.ConversationRoleUser || len(out[1].Content) != 2 {
		t.Errorf("tool results not merged: %+v", out[1])
	}

	tr := out[1].Content[1].(*types.ContentBlockMemberToolResult).Value
	if aws.ToString(tr.ToolUseId) != "c2" || tr.Status != types.ToolResultStatusError {
		t.Errorf("second tool result = %+v", tr)
	}
}

func TestConvertMessages_ThinkingBecomesReasoningContent(t *testing.T) {
	msgs := []ai.Message{
		ai.AssistantMessage{Role: ai.RoleAssistant, Content: []ai.ContentBlock{
			ai.ThinkingContent{Type: "thinking", Thinking: "hm", Signature: "sig"},
			ai.TextContent{Type: "text", Text: "answer"},
		}},
	}
	out, err := convertMessages(msgs)
	if err != nil {
		t.Fatal(err)
	}
	rc, ok := out[0].Content[0].(*types.ContentBlockMemberReasoningContent)
	if !ok {
		t.Fatalf("first block is %T", out[0].Content[0])
	}
	rt := rc.Value.(*types.ReasoningContentBlockMemberReasoningText).Value
	if aws.ToString(rt.Text) != "hm" || aws.ToString(rt.Signature) != "sig" {
		t.Errorf("reasoning text = %+v", rt)
	}
}

func TestMapStopReason(t *testing.T) {
	table := map[types.StopReason]ai.StopReason{
		types.StopReasonEndTurn:             ai.StopReasonStop,
		types.StopReasonStopSequence:        ai.StopReasonStop,
		types.StopReasonMaxTokens:           ai.StopReasonLength,
		types.StopReasonToolUse:             ai.StopReasonTool,
		types.StopReasonGuardrailIntervened: ai.StopReasonError,
		types.StopReasonContentFiltered:     ai.StopReasonError,
	}
	for in, want := range table {
		got, errText, err := mapStopReason(in)
		if err != nil || got != want {
			t.Errorf("mapStopReason(%q) = (%q, %v), want %q", in, got, err, want)
		}
		// Abnormal terminations always carry error text for the message.
		if got == ai.StopReasonError && errText == "" {
			t.Errorf("mapStopReason(%q) produced no error text", in)
		}
		if got != ai.StopReasonError && errText != "" {
			t.Errorf("mapStopReason(%q) produced stray error text %q", in, errText)
		}
	}
	if _, _, err := mapStopReason(types.StopReason("bogus")); err == nil {
		t.Error("unknown reason did not error")
	}
}

func newTestDecoder(sink *[]ai.StreamEvent) *converseDecoder {
	return &converseDecoder{
		partial: &ai.AssistantMessage{Role: ai.RoleAssistant},
		blocks:  map[int32]*blockState{},
		emit:    func(e ai.StreamEvent) { *sink = append(*sink, e) },
	}
}

func TestDecoder_GuardrailStopStampsErrorMessage(t *testing.T) {
	var sink []ai.StreamEvent
	dec := newTestDecoder(&sink)

	err := dec.handle(&types.ConverseStreamOutputMemberMessageStop{
		Value: types.MessageStopEvent{StopReason: types.StopReasonGuardrailIntervened},
	})
	if err != nil {
		t.Fatal(err)
	}
	if dec.partial.StopReason != ai.StopReasonError {
		t.Errorf("stop reason = %q, want error", dec.partial.StopReason)
	}
	// A blocked turn must not end as a degenerate message with no error text.
	if dec.partial.ErrorMessage == "" {
		t.Error("blocked turn has empty ErrorMessage")
	}
}

func TestDecoder_ToolUseDeltaWithoutStartIsFatal(t *testing.T) {
	var sink []ai.StreamEvent
	dec := newTestDecoder(&sink)

	// Text blocks may open lazily on their first delta; tool-use blocks may
	// not. A bare tool-use delta must surface a decoding error, not a panic.
	err := dec.handle(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta: &types.ContentBlockDeltaMemberToolUse{
				Value: types.ToolUseBlockDelta{Input: aws.String(`{"x":1}`)},
			},
		},
	})
	if err == nil {
		t.Fatal("tool-use delta with no prior start did not error")
	}
	if len(dec.partial.Content) != 0 {
		t.Errorf("content grew on malformed delta: %+v", dec.partial.Content)
	}
}

func TestDecoder_TextBlockOpensLazily(t *testing.T) {
	var sink []ai.StreamEvent
	dec := newTestDecoder(&sink)

	err := dec.handle(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &types.ContentBlockDeltaMemberText{Value: "hi"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sink) != 2 || sink[0].Type != ai.StreamEventTextStart || sink[1].Type != ai.StreamEventTextDelta {
		t.Fatalf("events = %+v", sink)
	}
	if txt := dec.partial.Content[0].(ai.TextContent).Text; txt != "hi" {
		t.Errorf("text = %q", txt)
	}
}

func TestThinkingFields(t *testing.T) {
	model := "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	fields, budget := thinkingFields(model, ai.StreamOptions{ThinkingLevel: ai.ThinkingMedium}, 8192)
	if fields == nil || budget != 2048 {
		t.Fatalf("fields = %v, budget = %d", fields, budget)
	}
	th := fields["thinking"].(map[string]any)
	if th["type"] != "enabled" || th["budget_tokens"] != 2048 {
		t.Errorf("thinking payload = %v", th)
	}

	if fields, _ := thinkingFields(model, ai.StreamOptions{ThinkingLevel: ai.ThinkingOff}, 8192); fields != nil {
		t.Errorf("off produced %v", fields)
	}

	// Non-thinking models get no reasoning payload regardless of level.
	plain := "us.anthropic.claude-3-5-sonnet-20241022-v2:0"
	if fields, _ := thinkingFields(plain, ai.StreamOptions{ThinkingLevel: ai.ThinkingHigh}, 8192); fields != nil {
		t.Errorf("non-thinking model produced %v", fields)
	}
}
