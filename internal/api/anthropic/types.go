// Package anthropic provides the Anthropic Messages API wire types accepted by
// the gateway's /v1/messages frontdoor.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// MessagesRequest represents an Anthropic Messages API request.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        SystemMessages  `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// ContentBlock can be a string or array of content blocks.
type ContentBlock []ContentPart

// UnmarshalJSON handles both string and array content formats.
func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = ContentBlock{{Type: "text", Text: str}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or array of content blocks: %w", err)
	}
	*c = parts
	return nil
}

// String returns the concatenated text content.
func (c ContentBlock) String() string {
	var result string
	for _, part := range c {
		if part.Type == "text" || part.Type == "" {
			result += part.Text
		}
	}
	return result
}

// ContentPart represents a single content part in a message.
type ContentPart struct {
	Type string `json:"type"` // "text", "image", "tool_use", "tool_result", "thinking"
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// For tool_result blocks; Content is a string or an array of text blocks.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// For image blocks
	Source *ImageSource `json:"source,omitempty"`

	// For thinking blocks
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ToolResultText flattens a tool_result content payload into plain text.
func (p ContentPart) ToolResultText() (string, error) {
	if len(p.Content) == 0 || string(p.Content) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(p.Content, &s); err == nil {
		return s, nil
	}
	var blocks []ContentPart
	if err := json.Unmarshal(p.Content, &blocks); err != nil {
		return "", fmt.Errorf("tool_result content must be a string or array: %w", err)
	}
	var out string
	for i, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if i > 0 && out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out, nil
}

// ImageSource represents an image source.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SystemMessages represents the system prompt (can be string or array).
type SystemMessages []SystemBlock

// UnmarshalJSON handles both string and array system formats.
func (s *SystemMessages) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemMessages{{Type: "text", Text: str}}
		return nil
	}

	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or array of text blocks: %w", err)
	}
	*s = blocks
	return nil
}

// SystemBlock represents a system message block.
type SystemBlock struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	CacheControl *Cache `json:"cache_control,omitempty"`
}

// Cache represents cache control settings.
type Cache struct {
	Type string `json:"type"` // "ephemeral"
}

// Tool represents a tool that the model can use.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

// ThinkingConfig configures extended thinking behavior.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// ToolChoice represents how the model should use tools.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", "tool", "none"
	Name string `json:"name,omitempty"`
}

// Metadata represents request metadata.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesResponse represents an Anthropic Messages API response.
type MessagesResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Content      []ResponseContent `json:"content"`
	Model        string            `json:"model"`
	StopReason   string            `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        MessagesUsage     `json:"usage"`
}

// ResponseContent represents content in a response.
type ResponseContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Input    any    `json:"input,omitempty"`
}

// MessagesUsage represents token usage in the response.
type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming types

// MessageStartEvent is sent at the start of a message.
type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

// ContentBlockStartEvent is sent at the start of a content block.
// ContentBlock is one of TextBlockStart, ThinkingBlockStart, ToolUseBlockStart.
type ContentBlockStartEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

// TextBlockStart opens a text block.
type TextBlockStart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ThinkingBlockStart opens a thinking block.
type ThinkingBlockStart struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

// ToolUseBlockStart opens a tool_use block.
type ToolUseBlockStart struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ContentBlockDeltaEvent is sent for content block updates.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta represents the delta in a content block.
type BlockDelta struct {
	Type        string `json:"type"` // "text_delta", "thinking_delta", "input_json_delta"
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopEvent is sent at the end of a content block.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent is sent for message-level updates.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage *DeltaUsage  `json:"usage,omitempty"`
}

// MessageDelta represents updates to the message.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence"`
}

// DeltaUsage represents usage in delta events.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent is sent at the end of a message.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// CountTokensResponse is returned by /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
