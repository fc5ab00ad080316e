package ai

import (
	"reflect"
	"testing"
)

func userText(s string) UserMessage {
	return UserMessage{Role: RoleUser, Content: []ContentBlock{TextContent{Type: "text", Text: s}}}
}

func TestTransform_MergesConsecutiveUserMessages(t *testing.T) {
	in := []Message{userText("first"), userText("second")}
	out := TransformContext(in, TransformOptions{})

	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1", len(out))
	}
	um := out[0].(UserMessage)
	if len(um.Content) != 2 {
		t.Fatalf("merged message has %d blocks, want 2", len(um.Content))
	}
	if um.Content[0].(TextContent).Text != "first" || um.Content[1].(TextContent).Text != "second" {
		t.Errorf("block order lost: %+v", um.Content)
	}
}

func TestTransform_DoesNotMergeAcrossAssistant(t *testing.T) {
	in := []Message{
		userText("a"),
		AssistantMessage{Role: RoleAssistant, Content: []ContentBlock{TextContent{Type: "text", Text: "b"}}},
		userText("c"),
	}
	out := TransformContext(in, TransformOptions{})
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
}

func TestTransform_DropsEmptyTextBlocks(t *testing.T) {
	msg := UserMessage{Role: RoleUser, Content: []ContentBlock{
		TextContent{Type: "text", Text: ""},
		TextContent{Type: "text", Text: "keep"},
	}}
	out := TransformContext([]Message{msg}, TransformOptions{})
	um := out[0].(UserMessage)
	if len(um.Content) != 1 || um.Content[0].(TextContent).Text != "keep" {
		t.Errorf("empty text block not dropped: %+v", um.Content)
	}
}

func TestTransform_DropsMessageLeftEmpty(t *testing.T) {
	msg := UserMessage{Role: RoleUser, Content: []ContentBlock{TextContent{Type: "text", Text: ""}}}
	out := TransformContext([]Message{msg}, TransformOptions{})
	if len(out) != 0 {
		t.Errorf("got %d messages, want 0", len(out))
	}
}

func TestTransform_StripsImagesWithoutVision(t *testing.T) {
	msg := UserMessage{Role: RoleUser, Content: []ContentBlock{
		ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
		TextContent{Type: "text", Text: "look"},
	}}

	out := TransformContext([]Message{msg}, TransformOptions{SupportsVision: false})
	if um := out[0].(UserMessage); len(um.Content) != 1 {
		t.Errorf("image not stripped: %+v", um.Content)
	}

	out = TransformContext([]Message{msg}, TransformOptions{SupportsVision: true})
	if um := out[0].(UserMessage); len(um.Content) != 2 {
		t.Errorf("image wrongly stripped: %+v", um.Content)
	}
}

func TestTransform_NormalizesToolCallIDs(t *testing.T) {
	in := []Message{
		AssistantMessage{Role: RoleAssistant, Content: []ContentBlock{
			ToolCall{Type: "tool_call", ID: "call:with spaces!", Name: "echo", Arguments: map[string]any{}},
		}, StopReason: StopReasonTool},
		ToolResultMessage{Role: RoleToolResult, ToolCallID: "call:with spaces!", ToolName: "echo",
			Content: []ContentBlock{TextContent{Type: "text", Text: "ok"}}},
	}
	out := TransformContext(in, TransformOptions{})

	tc := out[0].(AssistantMessage).Content[0].(ToolCall)
	tr := out[1].(ToolResultMessage)
	if tc.ID != "call_with_spaces_" {
		t.Errorf("tool-call id = %q", tc.ID)
	}
	if tr.ToolCallID != tc.ID {
		t.Errorf("tool-result references %q, call is %q", tr.ToolCallID, tc.ID)
	}
}

func TestTransform_DemotesUnsignedThinking(t *testing.T) {
	in := []Message{AssistantMessage{Role: RoleAssistant, Content: []ContentBlock{
		ThinkingContent{Type: "thinking", Thinking: "signed", Signature: "sig"},
		ThinkingContent{Type: "thinking", Thinking: "unsigned"},
	}}}
	out := TransformContext(in, TransformOptions{})
	am := out[0].(AssistantMessage)
	if _, ok := am.Content[0].(ThinkingContent); !ok {
		t.Errorf("signed thinking demoted: %+v", am.Content[0])
	}
	if txt, ok := am.Content[1].(TextContent); !ok || txt.Text != "unsigned" {
		t.Errorf("unsigned thinking not demoted to text: %+v", am.Content[1])
	}
}

func TestTransform_EmptyToolResultGetsPlaceholderText(t *testing.T) {
	in := []Message{ToolResultMessage{Role: RoleToolResult, ToolCallID: "c1", ToolName: "noop"}}
	out := TransformContext(in, TransformOptions{})
	tr := out[0].(ToolResultMessage)
	if len(tr.Content) != 1 {
		t.Fatalf("got %d blocks, want 1 placeholder", len(tr.Content))
	}
	if txt := tr.Content[0].(TextContent); txt.Text != "" {
		t.Errorf("placeholder text = %q, want empty", txt.Text)
	}
}

func TestTransform_Idempotent(t *testing.T) {
	in := []Message{
		userText("q\xed\xa0\x80!"),
		AssistantMessage{Role: RoleAssistant, Content: []ContentBlock{
			ThinkingContent{Type: "thinking", Thinking: "t"},
			ToolCall{Type: "tool_call", ID: "bad id", Name: "x", Arguments: map[string]any{}},
		}},
		ToolResultMessage{Role: RoleToolResult, ToolCallID: "bad id", ToolName: "x",
			Content: []ContentBlock{TextContent{Type: "text", Text: "r"}}},
		userText("a"),
		userText("b"),
	}
	opts := TransformOptions{SupportsVision: false}
	once := TransformContext(in, opts)
	twice := TransformContext(once, opts)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("transform not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	orig := AssistantMessage{Role: RoleAssistant, Content: []ContentBlock{
		ToolCall{Type: "tool_call", ID: "bad id", Name: "x", Arguments: map[string]any{}},
	}}
	in := []Message{orig}
	TransformContext(in, TransformOptions{})
	if got := in[0].(AssistantMessage).Content[0].(ToolCall).ID; got != "bad id" {
		t.Errorf("input mutated: id = %q", got)
	}
}

func TestNormalizeToolCallID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"toolu_01ABC", "toolu_01ABC"},
		{"has space", "has_space"},
		{"", "_"},
		{"ünïcode", "__n__code"},
	}
	for _, tt := range tests {
		if got := NormalizeToolCallID(tt.in); got != tt.want {
			t.Errorf("NormalizeToolCallID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	if got := NormalizeToolCallID(string(long)); len(got) != 64 {
		t.Errorf("long id truncated to %d bytes, want 64", len(got))
	}
}
