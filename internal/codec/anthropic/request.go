// Package anthropic translates between the Anthropic Messages format accepted
// by the gateway and the OpenAI chat-completions format spoken upstream.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lexandersaw/iflow2api/internal/api/anthropic"
	"github.com/lexandersaw/iflow2api/internal/api/openai"
	"github.com/lexandersaw/iflow2api/internal/domain"
)

// APIRequestToOpenAI converts an Anthropic Messages request into the upstream
// chat-completions shape. The top-level system prompt becomes a leading
// system message and tool_result blocks become tool-role messages.
func APIRequestToOpenAI(req *anthropic.MessagesRequest) (*openai.ChatCompletionRequest, error) {
	out := &openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.StopSequences,
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	if len(req.System) > 0 {
		texts := make([]string, 0, len(req.System))
		for _, sys := range req.System {
			if sys.Type != "" && sys.Type != "text" {
				return nil, domain.ErrInvalidRequest("unsupported system block type: %s", sys.Type).WithParam("system")
			}
			texts = append(texts, sys.Text)
		}
		if text := strings.Join(texts, "\n"); text != "" {
			out.Messages = append(out.Messages, openai.ChatCompletionMessage{
				Role:    "system",
				Content: openai.TextContent(text),
			})
		}
	}

	for idx, msg := range req.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return nil, domain.ErrInvalidRequest("messages[%d]: %s", idx, err.Error()).WithParam("messages")
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.FunctionTool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	if req.ToolChoice != nil {
		choice, err := toolChoiceToOpenAI(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = choice
	}

	return out, nil
}

func convertMessage(msg anthropic.Message) ([]openai.ChatCompletionMessage, error) {
	switch msg.Role {
	case "assistant":
		m, err := convertAssistant(msg.Content)
		if err != nil {
			return nil, err
		}
		return []openai.ChatCompletionMessage{m}, nil
	case "user":
		return convertUser(msg.Content)
	default:
		return nil, fmt.Errorf("unsupported role: %s", msg.Role)
	}
}

func convertAssistant(blocks anthropic.ContentBlock) (openai.ChatCompletionMessage, error) {
	out := openai.ChatCompletionMessage{Role: "assistant"}
	var texts, thinking []string

	for _, b := range blocks {
		switch blockType(b) {
		case "text":
			texts = append(texts, b.Text)
		case "thinking":
			thinking = append(thinking, b.Thinking)
		case "redacted_thinking":
		case "tool_use":
			args, err := json.Marshal(orEmptyObject(b.Input))
			if err != nil {
				return out, fmt.Errorf("tool_use %s: %w", b.Name, err)
			}
			id := b.ID
			if id == "" {
				id = "call_" + shortID()
			}
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:       id,
				Type:     "function",
				Function: openai.FunctionCall{Name: b.Name, Arguments: string(args)},
			})
		default:
			return out, fmt.Errorf("unsupported assistant content block type: %s", b.Type)
		}
	}

	if text := strings.Join(texts, "\n"); text != "" || len(out.ToolCalls) == 0 {
		out.Content = openai.TextContent(text)
	}
	out.ReasoningContent = strings.Join(thinking, "")
	return out, nil
}

func convertUser(blocks anthropic.ContentBlock) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	var parts []openai.ContentPart
	hasImage := false
	sawToolResult := false

	for _, b := range blocks {
		switch blockType(b) {
		case "tool_result":
			sawToolResult = true
			text, err := b.ToolResultText()
			if err != nil {
				return nil, err
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    openai.TextContent(text),
			})
		case "text":
			parts = append(parts, openai.ContentPart{Type: "text", Text: b.Text})
		case "image":
			img, err := imageToURL(b.Source)
			if err != nil {
				return nil, err
			}
			hasImage = true
			parts = append(parts, openai.ContentPart{Type: "image_url", ImageURL: img})
		default:
			return nil, fmt.Errorf("unsupported user content block type: %s", b.Type)
		}
	}

	switch {
	case hasImage:
		out = append(out, openai.ChatCompletionMessage{Role: "user", Content: openai.PartsContent(parts)})
	case len(parts) > 0 || !sawToolResult:
		texts := make([]string, len(parts))
		for i, p := range parts {
			texts[i] = p.Text
		}
		out = append(out, openai.ChatCompletionMessage{Role: "user", Content: openai.TextContent(strings.Join(texts, "\n"))})
	}
	return out, nil
}

func imageToURL(src *anthropic.ImageSource) (*openai.ImageURL, error) {
	if src == nil {
		return nil, fmt.Errorf("image block has no source")
	}
	switch src.Type {
	case "base64":
		mediaType := src.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return &openai.ImageURL{URL: "data:" + mediaType + ";base64," + src.Data}, nil
	case "url":
		return &openai.ImageURL{URL: src.URL}, nil
	default:
		return nil, fmt.Errorf("unsupported image source type: %s", src.Type)
	}
}

func toolChoiceToOpenAI(tc *anthropic.ToolChoice) (any, error) {
	switch tc.Type {
	case "auto":
		return "auto", nil
	case "none":
		return "none", nil
	case "any":
		return "required", nil
	case "tool":
		if tc.Name == "" {
			return nil, domain.ErrInvalidRequest("tool_choice of type tool requires a name").WithParam("tool_choice")
		}
		choice := openai.ToolChoiceFunction{Type: "function"}
		choice.Function.Name = tc.Name
		return choice, nil
	default:
		return nil, domain.ErrInvalidRequest("unsupported tool_choice type: %q", tc.Type).WithParam("tool_choice")
	}
}

// OpenAIRequestToAPI converts a chat-completions request back into the
// Messages shape. System messages are hoisted into the system prompt and
// tool-role messages become tool_result blocks.
func OpenAIRequestToAPI(req *openai.ChatCompletionRequest) (*anthropic.MessagesRequest, error) {
	out := &anthropic.MessagesRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        req.Stream,
		StopSequences: req.Stop,
	}
	if req.User != "" {
		out.Metadata = &anthropic.Metadata{UserID: req.User}
	}

	for idx, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			out.System = append(out.System, anthropic.SystemBlock{Type: "text", Text: m.Content.String()})
		case "tool":
			raw, _ := json.Marshal(m.Content.String())
			appendUser(out, anthropic.ContentPart{Type: "tool_result", ToolUseID: m.ToolCallID, Content: raw})
		case "user":
			blocks, err := partsToBlocks(m.Content)
			if err != nil {
				return nil, domain.ErrInvalidRequest("messages[%d]: %s", idx, err.Error()).WithParam("messages")
			}
			appendUser(out, blocks...)
		case "assistant":
			var blocks anthropic.ContentBlock
			if m.ReasoningContent != "" {
				blocks = append(blocks, anthropic.ContentPart{Type: "thinking", Thinking: m.ReasoningContent})
			}
			if text := m.Content.String(); text != "" {
				blocks = append(blocks, anthropic.ContentPart{Type: "text", Text: text})
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentPart{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: parseArguments(call.Function.Arguments),
				})
			}
			out.Messages = append(out.Messages, anthropic.Message{Role: "assistant", Content: blocks})
		default:
			return nil, domain.ErrInvalidRequest("messages[%d]: unsupported role: %s", idx, m.Role).WithParam("messages")
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	if req.ToolChoice != nil {
		choice, err := toolChoiceFromOpenAI(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = choice
	}

	return out, nil
}

// appendUser merges consecutive user content into one message so tool
// results and follow-up text share a user turn.
func appendUser(req *anthropic.MessagesRequest, blocks ...anthropic.ContentPart) {
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "user" {
		req.Messages[n-1].Content = append(req.Messages[n-1].Content, blocks...)
		return
	}
	req.Messages = append(req.Messages, anthropic.Message{Role: "user", Content: blocks})
}

func partsToBlocks(c openai.MessageContent) (anthropic.ContentBlock, error) {
	if c.Parts == nil {
		return anthropic.ContentBlock{{Type: "text", Text: c.Text}}, nil
	}
	blocks := make(anthropic.ContentBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthropic.ContentPart{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				return nil, fmt.Errorf("image_url part has no url")
			}
			blocks = append(blocks, anthropic.ContentPart{Type: "image", Source: urlToImageSource(p.ImageURL.URL)})
		default:
			return nil, fmt.Errorf("unsupported content part type: %s", p.Type)
		}
	}
	return blocks, nil
}

// urlToImageSource splits a data: URI into base64 source fields and passes
// any other URL through as a url source.
func urlToImageSource(u string) *anthropic.ImageSource {
	if rest, ok := strings.CutPrefix(u, "data:"); ok {
		if meta, data, found := strings.Cut(rest, ","); found && strings.HasSuffix(meta, ";base64") {
			return &anthropic.ImageSource{
				Type:      "base64",
				MediaType: strings.TrimSuffix(meta, ";base64"),
				Data:      data,
			}
		}
	}
	return &anthropic.ImageSource{Type: "url", URL: u}
}

func toolChoiceFromOpenAI(choice any) (*anthropic.ToolChoice, error) {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return &anthropic.ToolChoice{Type: "auto"}, nil
		case "none":
			return &anthropic.ToolChoice{Type: "none"}, nil
		case "required":
			return &anthropic.ToolChoice{Type: "any"}, nil
		}
	case openai.ToolChoiceFunction:
		return &anthropic.ToolChoice{Type: "tool", Name: v.Function.Name}, nil
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok && name != "" {
				return &anthropic.ToolChoice{Type: "tool", Name: name}, nil
			}
		}
	}
	return nil, domain.ErrInvalidRequest("unsupported tool_choice: %v", choice).WithParam("tool_choice")
}

func blockType(b anthropic.ContentPart) string {
	if b.Type == "" {
		return "text"
	}
	return b.Type
}

func orEmptyObject(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

// parseArguments decodes tool-call arguments, keeping unparseable input
// under "_raw" so nothing is lost.
func parseArguments(args string) any {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return map[string]any{"_raw": args}
	}
	return v
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
