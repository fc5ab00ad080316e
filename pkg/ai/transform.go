package ai

import "strings"

// TransformOptions configures the pre-flight transform for a target model.
type TransformOptions struct {
	// SupportsVision keeps image blocks in the outbound context. When false,
	// image blocks are stripped.
	SupportsVision bool
}

// TransformContext normalizes a message history for the provider wire:
//
//   - surrogate halves are removed from every outbound string
//   - empty text blocks are dropped
//   - image blocks are stripped for models without image input
//   - tool-call ids are normalized to [A-Za-z0-9_-]{1,64}, with the matching
//     tool-result references rewritten to the same id
//   - thinking blocks without a signature are demoted to text (the provider
//     rejects unsigned thinking on replay)
//   - consecutive user messages are merged into one
//   - messages left with no content are dropped
//
// The transform is pure (inputs are never mutated) and idempotent: applying
// it twice yields the same list as applying it once.
func TransformContext(messages []Message, opts TransformOptions) []Message {
	idMap := make(map[string]string)

	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch m := msg.(type) {
		case UserMessage:
			nm := transformUser(m, opts)
			if len(nm.Content) == 0 {
				continue
			}
			// Merge into the previous user message when the roles touch.
			if len(out) > 0 {
				if prev, ok := out[len(out)-1].(UserMessage); ok {
					prev.Content = append(append([]ContentBlock{}, prev.Content...), nm.Content...)
					out[len(out)-1] = prev
					continue
				}
			}
			out = append(out, nm)
		case *UserMessage:
			nm := transformUser(*m, opts)
			if len(nm.Content) == 0 {
				continue
			}
			if len(out) > 0 {
				if prev, ok := out[len(out)-1].(UserMessage); ok {
					prev.Content = append(append([]ContentBlock{}, prev.Content...), nm.Content...)
					out[len(out)-1] = prev
					continue
				}
			}
			out = append(out, nm)
		case AssistantMessage:
			nm := transformAssistant(m, idMap)
			if len(nm.Content) == 0 {
				continue
			}
			out = append(out, nm)
		case *AssistantMessage:
			nm := transformAssistant(*m, idMap)
			if len(nm.Content) == 0 {
				continue
			}
			out = append(out, nm)
		case ToolResultMessage:
			out = append(out, transformToolResult(m, idMap, opts))
		case *ToolResultMessage:
			out = append(out, transformToolResult(*m, idMap, opts))
		default:
			out = append(out, msg)
		}
	}
	return out
}

func transformUser(m UserMessage, opts TransformOptions) UserMessage {
	m.Content = transformBlocks(m.Content, opts)
	return m
}

func transformAssistant(m AssistantMessage, idMap map[string]string) AssistantMessage {
	blocks := make([]ContentBlock, 0, len(m.Content))
	for _, b := range m.Content {
		switch c := b.(type) {
		case TextContent:
			c.Text = SanitizeSurrogates(c.Text)
			if c.Text == "" {
				continue
			}
			blocks = append(blocks, c)
		case ThinkingContent:
			c.Thinking = SanitizeSurrogates(c.Thinking)
			if c.Signature == "" {
				if c.Thinking == "" {
					continue
				}
				blocks = append(blocks, TextContent{Type: "text", Text: c.Thinking})
				continue
			}
			blocks = append(blocks, c)
		case ToolCall:
			id := NormalizeToolCallID(c.ID)
			if id != c.ID {
				idMap[c.ID] = id
				c.ID = id
			}
			blocks = append(blocks, c)
		default:
			blocks = append(blocks, b)
		}
	}
	m.Content = blocks
	return m
}

func transformToolResult(m ToolResultMessage, idMap map[string]string, opts TransformOptions) ToolResultMessage {
	if mapped, ok := idMap[m.ToolCallID]; ok {
		m.ToolCallID = mapped
	} else {
		m.ToolCallID = NormalizeToolCallID(m.ToolCallID)
	}
	m.Content = transformBlocks(m.Content, opts)
	if len(m.Content) == 0 {
		// The provider rejects content-free tool results.
		m.Content = []ContentBlock{TextContent{Type: "text", Text: ""}}
	}
	return m
}

// transformBlocks sanitizes text, drops empty text blocks, and strips images
// for non-vision models.
func transformBlocks(blocks []ContentBlock, opts TransformOptions) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch c := b.(type) {
		case TextContent:
			c.Text = SanitizeSurrogates(c.Text)
			if c.Text == "" {
				continue
			}
			out = append(out, c)
		case ImageContent:
			if !opts.SupportsVision {
				continue
			}
			out = append(out, c)
		default:
			out = append(out, b)
		}
	}
	return out
}

// NormalizeToolCallID maps an arbitrary provider-issued id onto the
// [A-Za-z0-9_-]{1,64} alphabet accepted on replay. Invalid bytes become
// underscores; the result is truncated to 64 bytes; an empty id becomes "_".
// Already-valid ids pass through unchanged, so normalization is idempotent.
func NormalizeToolCallID(id string) string {
	valid := true
	for i := 0; i < len(id); i++ {
		if !isToolCallIDByte(id[i]) {
			valid = false
			break
		}
	}
	if valid && len(id) >= 1 && len(id) <= 64 {
		return id
	}

	var b strings.Builder
	for i := 0; i < len(id) && b.Len() < 64; i++ {
		if isToolCallIDByte(id[i]) {
			b.WriteByte(id[i])
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func isToolCallIDByte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
