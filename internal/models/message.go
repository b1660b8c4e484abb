package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Message types as reported by the agent graph.
const (
	MessageTypeHuman    = "human"
	MessageTypeAI       = "ai"
	MessageTypeSystem   = "system"
	MessageTypeTool     = "tool"
	MessageTypeFunction = "function"
	MessageTypeGeneric  = "generic"
)

// ToolCall is a tool invocation requested by an AI message.
type ToolCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
	Type string          `json:"type,omitempty"`
}

// UsageMetadata is the provider neutral token usage attached to AI messages.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Message is a chat message read from a checkpoint's channel values.
type Message struct {
	Type       string
	Content    json.RawMessage
	Name       string
	ID         string
	ToolCallID string
	// ToolCalls is nil when the message carried no tool_calls field.
	ToolCalls        []ToolCall
	AdditionalKwargs map[string]json.RawMessage
	ResponseMetadata map[string]json.RawMessage
	UsageMetadata    *UsageMetadata
}

// messageFields is the field set shared by every message encoding.
type messageFields struct {
	Type             string                     `json:"type"`
	Role             string                     `json:"role"`
	Content          json.RawMessage            `json:"content"`
	Name             string                     `json:"name"`
	ID               json.RawMessage            `json:"id"`
	ToolCallID       string                     `json:"tool_call_id"`
	ToolCalls        []ToolCall                 `json:"tool_calls"`
	AdditionalKwargs map[string]json.RawMessage `json:"additional_kwargs"`
	ResponseMetadata map[string]json.RawMessage `json:"response_metadata"`
	UsageMetadata    *UsageMetadata             `json:"usage_metadata"`
}

type messageEnvelope struct {
	LC     int             `json:"lc"`
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id"`
	Kwargs json.RawMessage `json:"kwargs"`
	Data   json.RawMessage `json:"data"`
}

var constructorTypes = map[string]string{
	"HumanMessage":       MessageTypeHuman,
	"HumanMessageChunk":  MessageTypeHuman,
	"AIMessage":          MessageTypeAI,
	"AIMessageChunk":     MessageTypeAI,
	"SystemMessage":      MessageTypeSystem,
	"SystemMessageChunk": MessageTypeSystem,
	"ToolMessage":        MessageTypeTool,
	"ToolMessageChunk":   MessageTypeTool,
	"FunctionMessage":    MessageTypeFunction,
	"ChatMessage":        MessageTypeGeneric,
	"ChatMessageChunk":   MessageTypeGeneric,
	"RemoveMessage":      "remove",
}

// DecodeMessage parses one message in constructor form
// ({"lc":1,"type":"constructor","id":[...],"kwargs":{...}}), stored form
// ({"type":"ai","data":{...}}) or plain form ({"type"|"role":...,"content":...}).
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var env messageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}

	var (
		body    json.RawMessage
		msgType string
	)
	switch {
	case env.LC > 0 && env.Type == "constructor":
		var path []string
		if err := json.Unmarshal(env.ID, &path); err != nil || len(path) == 0 {
			return Message{}, fmt.Errorf("constructor message has no class path")
		}
		class := path[len(path)-1]
		t, ok := constructorTypes[class]
		if !ok {
			return Message{}, fmt.Errorf("unknown message class %q", class)
		}
		body, msgType = env.Kwargs, t
	case len(env.Data) > 0 && env.Type != "":
		body, msgType = env.Data, normalizeMessageType(env.Type)
	default:
		body = raw
	}

	var fields messageFields
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return Message{}, fmt.Errorf("failed to decode message fields: %w", err)
		}
	}
	if msgType == "" {
		msgType = fields.Type
		if msgType == "" {
			msgType = fields.Role
		}
		msgType = normalizeMessageType(msgType)
	}

	msg := Message{
		Type:             msgType,
		Content:          fields.Content,
		Name:             fields.Name,
		ID:               rawString(fields.ID),
		ToolCallID:       fields.ToolCallID,
		ToolCalls:        fields.ToolCalls,
		AdditionalKwargs: fields.AdditionalKwargs,
		ResponseMetadata: fields.ResponseMetadata,
		UsageMetadata:    fields.UsageMetadata,
	}
	return msg, nil
}

// DecodeMessages parses a messages channel value. A missing or null channel
// is an empty list.
func DecodeMessages(raw json.RawMessage) ([]Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []Message{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("messages channel is not a list: %w", err)
	}
	messages := make([]Message, 0, len(items))
	for i, item := range items {
		msg, err := DecodeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func normalizeMessageType(t string) string {
	switch strings.ToLower(t) {
	case "ai", "assistant":
		return MessageTypeAI
	case "human", "user":
		return MessageTypeHuman
	case "system", "developer":
		return MessageTypeSystem
	case "tool":
		return MessageTypeTool
	case "function":
		return MessageTypeFunction
	case "", "generic", "chat":
		return MessageTypeGeneric
	default:
		return strings.ToLower(t)
	}
}

// rawString accepts a JSON string id; any other shape is dropped.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// IsAI reports whether the message was authored by the model.
func (m Message) IsAI() bool {
	return m.Type == MessageTypeAI
}

// ToolCallCount returns the number of tool calls the message requested. When
// the tool_calls field is absent the OpenAI-shape additional_kwargs.tool_calls
// is counted instead.
func (m Message) ToolCallCount() int {
	if m.ToolCalls != nil {
		return len(m.ToolCalls)
	}
	raw, ok := m.AdditionalKwargs["tool_calls"]
	if !ok {
		return 0
	}
	var calls []openai.ToolCall
	if err := json.Unmarshal(raw, &calls); err != nil {
		return 0
	}
	return len(calls)
}

// ModelName returns response_metadata.model_name, or response_metadata.model
// for providers that report it there.
func (m Message) ModelName() *string {
	for _, key := range []string{"model_name", "model"} {
		raw, ok := m.ResponseMetadata[key]
		if !ok {
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err == nil && name != "" {
			return &name
		}
	}
	return nil
}

// TotalTokens returns response_metadata.tokenUsage.totalTokens, falling back
// to usage_metadata.total_tokens.
func (m Message) TotalTokens() *int {
	if raw, ok := m.ResponseMetadata["tokenUsage"]; ok {
		var usage struct {
			TotalTokens *int `json:"totalTokens"`
		}
		if err := json.Unmarshal(raw, &usage); err == nil && usage.TotalTokens != nil {
			return usage.TotalTokens
		}
	}
	if m.UsageMetadata != nil {
		total := m.UsageMetadata.TotalTokens
		return &total
	}
	return nil
}

// StoredMessage is the plain transportable form of a message.
type StoredMessage struct {
	Type string            `json:"type"`
	Data StoredMessageData `json:"data"`
}

type StoredMessageData struct {
	Content          json.RawMessage            `json:"content"`
	Name             string                     `json:"name,omitempty"`
	ID               string                     `json:"id,omitempty"`
	ToolCallID       string                     `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall                 `json:"tool_calls,omitempty"`
	AdditionalKwargs map[string]json.RawMessage `json:"additional_kwargs"`
	ResponseMetadata map[string]json.RawMessage `json:"response_metadata"`
	UsageMetadata    *UsageMetadata             `json:"usage_metadata,omitempty"`
}

// ToStored converts the message to its transportable form.
func (m Message) ToStored() StoredMessage {
	content := m.Content
	if len(content) == 0 {
		content = json.RawMessage(`""`)
	}
	kwargs := m.AdditionalKwargs
	if kwargs == nil {
		kwargs = map[string]json.RawMessage{}
	}
	meta := m.ResponseMetadata
	if meta == nil {
		meta = map[string]json.RawMessage{}
	}
	return StoredMessage{
		Type: m.Type,
		Data: StoredMessageData{
			Content:          content,
			Name:             m.Name,
			ID:               m.ID,
			ToolCallID:       m.ToolCallID,
			ToolCalls:        m.ToolCalls,
			AdditionalKwargs: kwargs,
			ResponseMetadata: meta,
			UsageMetadata:    m.UsageMetadata,
		},
	}
}
