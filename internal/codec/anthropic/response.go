package anthropic

import (
	"net/http"

	"github.com/lexandersaw/iflow2api/internal/api/anthropic"
	"github.com/lexandersaw/iflow2api/internal/api/openai"
	"github.com/lexandersaw/iflow2api/internal/domain"
)

// StopReasonOther is reported for upstream finish reasons with no mapping.
const StopReasonOther = "other"

// stopReasons maps upstream finish_reason values to Messages stop_reason.
var stopReasons = map[string]string{
	"":               "end_turn",
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"function_call":  "tool_use",
	"content_filter": "refusal",
}

// MapFinishReason converts an upstream finish_reason. Unknown values map to
// StopReasonOther.
func MapFinishReason(reason string) string {
	if mapped, ok := stopReasons[reason]; ok {
		return mapped
	}
	return StopReasonOther
}

// Options controls reasoning handling in responses.
type Options struct {
	// PreserveReasoning emits reasoning as thinking blocks instead of folding
	// it into the text.
	PreserveReasoning bool
}

// OpenAIResponseToAPI converts an upstream completion into a Messages
// response. model is the name the caller asked for.
func OpenAIResponseToAPI(resp *openai.ChatCompletionResponse, model string, opts Options) (*anthropic.MessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, domain.ErrServer("upstream returned no choices").WithStatusCode(http.StatusBadGateway)
	}
	choice := resp.Choices[0]
	msg := choice.Message
	text := msg.Content.String()

	var content []anthropic.ResponseContent
	if opts.PreserveReasoning && msg.ReasoningContent != "" {
		content = append(content, anthropic.ResponseContent{Type: "thinking", Thinking: msg.ReasoningContent})
	}
	if text == "" && len(msg.ToolCalls) == 0 {
		text = msg.ReasoningContent
	}
	if text != "" {
		content = append(content, anthropic.ResponseContent{Type: "text", Text: text})
	}

	for _, call := range msg.ToolCalls {
		id := call.ID
		if id == "" {
			id = "toolu_" + shortID()
		}
		content = append(content, anthropic.ResponseContent{
			Type:  "tool_use",
			ID:    id,
			Name:  call.Function.Name,
			Input: parseArguments(call.Function.Arguments),
		})
	}

	if len(content) == 0 {
		content = []anthropic.ResponseContent{{Type: "text"}}
	}

	out := &anthropic.MessagesResponse{
		ID:         "msg_" + shortID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: MapFinishReason(choice.FinishReason),
	}
	if resp.Usage != nil {
		out.Usage = anthropic.MessagesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}
