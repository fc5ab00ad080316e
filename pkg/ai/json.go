// Message serialisation.
//
// Message and ContentBlock are interfaces; standard json.Unmarshal cannot
// decode them without help. MarshalMessage / UnmarshalMessage handle the full
// type set, discriminating on the "role" and "type" tags so that serialized
// messages stay portable across the session log and any client.
package ai

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Content block serialisation
// ---------------------------------------------------------------------------

// rawBlock is a flat representation of any ContentBlock, used for both
// marshalling (each concrete type naturally fits) and unmarshalling (peek at
// "type", then decode).
type rawBlock struct {
	Type string `json:"type"`

	// TextContent / ThinkingContent
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// ImageContent
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`

	// ToolCall
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name,omitempty"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
}

func marshalBlocks(blocks []ContentBlock) (json.RawMessage, error) {
	raws := make([]rawBlock, 0, len(blocks))
	for _, b := range blocks {
		switch c := b.(type) {
		case TextContent:
			raws = append(raws, rawBlock{Type: "text", Text: c.Text, Signature: c.Signature})
		case ThinkingContent:
			raws = append(raws, rawBlock{Type: "thinking", Thinking: c.Thinking, Signature: c.Signature})
		case ImageContent:
			raws = append(raws, rawBlock{Type: "image", Data: c.Data, MIMEType: c.MIMEType})
		case ToolCall:
			raws = append(raws, rawBlock{
				Type: "tool_call", ID: c.ID, Name: c.Name,
				Arguments: c.Arguments, ThoughtSignature: c.ThoughtSignature,
			})
		}
	}
	return json.Marshal(raws)
}

func unmarshalBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	var raws []rawBlock
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, err
	}
	blocks := make([]ContentBlock, 0, len(raws))
	for _, r := range raws {
		switch r.Type {
		case "text":
			blocks = append(blocks, TextContent{Type: "text", Text: r.Text, Signature: r.Signature})
		case "thinking":
			blocks = append(blocks, ThinkingContent{Type: "thinking", Thinking: r.Thinking, Signature: r.Signature})
		case "image":
			blocks = append(blocks, ImageContent{Type: "image", Data: r.Data, MIMEType: r.MIMEType})
		case "tool_call":
			blocks = append(blocks, ToolCall{
				Type: "tool_call", ID: r.ID, Name: r.Name,
				Arguments: r.Arguments, ThoughtSignature: r.ThoughtSignature,
			})
		}
	}
	return blocks, nil
}

// ---------------------------------------------------------------------------
// Message wire types (concrete, fully serialisable)
// ---------------------------------------------------------------------------

type wireUserMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"` // []rawBlock
	Timestamp int64           `json:"timestamp"`
}

type wireAssistantMessage struct {
	Role         string          `json:"role"`
	Content      json.RawMessage `json:"content"` // []rawBlock
	Model        string          `json:"model"`
	Provider     string          `json:"provider"`
	APIFlavor    string          `json:"api,omitempty"`
	Usage        Usage           `json:"usage"`
	StopReason   StopReason      `json:"stop_reason"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

type wireToolResultMessage struct {
	Role       string          `json:"role"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Content    json.RawMessage `json:"content"` // []rawBlock
	Details    json.RawMessage `json:"details,omitempty"`
	IsError    bool            `json:"is_error"`
	Timestamp  int64           `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// MarshalMessage / UnmarshalMessage
// ---------------------------------------------------------------------------

// MarshalMessage serialises any Message to JSON.
func MarshalMessage(m Message) (json.RawMessage, error) {
	// Dereference pointer types — providers return *AssistantMessage.
	switch p := m.(type) {
	case *UserMessage:
		return MarshalMessage(*p)
	case *AssistantMessage:
		return MarshalMessage(*p)
	case *ToolResultMessage:
		return MarshalMessage(*p)
	}

	switch msg := m.(type) {
	case UserMessage:
		cb, err := marshalBlocks(msg.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireUserMessage{
			Role:      "user",
			Content:   cb,
			Timestamp: msg.Timestamp,
		})

	case AssistantMessage:
		cb, err := marshalBlocks(msg.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireAssistantMessage{
			Role:         "assistant",
			Content:      cb,
			Model:        msg.Model,
			Provider:     msg.Provider,
			APIFlavor:    msg.APIFlavor,
			Usage:        msg.Usage,
			StopReason:   msg.StopReason,
			ErrorMessage: msg.ErrorMessage,
			Timestamp:    msg.Timestamp,
		})

	case ToolResultMessage:
		cb, err := marshalBlocks(msg.Content)
		if err != nil {
			return nil, err
		}
		var details json.RawMessage
		if msg.Details != nil {
			details, err = json.Marshal(msg.Details)
			if err != nil {
				return nil, err
			}
		}
		return json.Marshal(wireToolResultMessage{
			Role:       "tool_result",
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
			Content:    cb,
			Details:    details,
			IsError:    msg.IsError,
			Timestamp:  msg.Timestamp,
		})

	default:
		return nil, fmt.Errorf("ai: unknown message type %T", m)
	}
}

// UnmarshalMessage deserialises a JSON blob into a Message. role is provided
// separately (it is also inside the JSON, but passing it avoids a double
// parse in the hot path).
func UnmarshalMessage(role string, data json.RawMessage) (Message, error) {
	switch role {
	case "user":
		var w wireUserMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		blocks, err := unmarshalBlocks(w.Content)
		if err != nil {
			return nil, err
		}
		return UserMessage{Role: RoleUser, Content: blocks, Timestamp: orNow(w.Timestamp)}, nil

	case "assistant":
		var w wireAssistantMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		blocks, err := unmarshalBlocks(w.Content)
		if err != nil {
			return nil, err
		}
		return AssistantMessage{
			Role:         RoleAssistant,
			Content:      blocks,
			Model:        w.Model,
			Provider:     w.Provider,
			APIFlavor:    w.APIFlavor,
			Usage:        w.Usage,
			StopReason:   w.StopReason,
			ErrorMessage: w.ErrorMessage,
			Timestamp:    orNow(w.Timestamp),
		}, nil

	case "tool_result":
		var w wireToolResultMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		blocks, err := unmarshalBlocks(w.Content)
		if err != nil {
			return nil, err
		}
		var details any
		if len(w.Details) > 0 {
			_ = json.Unmarshal(w.Details, &details)
		}
		return ToolResultMessage{
			Role:       RoleToolResult,
			ToolCallID: w.ToolCallID,
			ToolName:   w.ToolName,
			Content:    blocks,
			Details:    details,
			IsError:    w.IsError,
			Timestamp:  orNow(w.Timestamp),
		}, nil

	default:
		return nil, fmt.Errorf("ai: unknown role %q", role)
	}
}

// UnmarshalAnyMessage decodes a message whose role is not known up front by
// peeking at the "role" tag.
func UnmarshalAnyMessage(data json.RawMessage) (Message, error) {
	var probe struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("ai: parse message role: %w", err)
	}
	return UnmarshalMessage(probe.Role, data)
}

func orNow(ts int64) int64 {
	if ts == 0 {
		return time.Now().UnixMilli()
	}
	return ts
}
