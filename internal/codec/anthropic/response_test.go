package anthropic

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/lexandersaw/iflow2api/internal/api/openai"
)

func decodeResponse(t *testing.T, body string) *openai.ChatCompletionResponse {
	t.Helper()
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return &resp
}

func TestMapFinishReason(t *testing.T) {
	tests := map[string]string{
		"stop":           "end_turn",
		"":               "end_turn",
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"content_filter": "refusal",
		"insufficient":   StopReasonOther,
	}
	for in, want := range tests {
		if got := MapFinishReason(in); got != want {
			t.Errorf("MapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenAIResponseToAPI_Text(t *testing.T) {
	resp := decodeResponse(t, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"length"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`)

	got, err := OpenAIResponseToAPI(resp, "claude-sonnet-4", Options{})
	if err != nil {
		t.Fatalf("OpenAIResponseToAPI() error = %v", err)
	}
	if got.Model != "claude-sonnet-4" || got.Type != "message" || got.Role != "assistant" {
		t.Errorf("envelope = %+v", got)
	}
	if !strings.HasPrefix(got.ID, "msg_") {
		t.Errorf("id = %q", got.ID)
	}
	if got.StopReason != "max_tokens" {
		t.Errorf("stop_reason = %q", got.StopReason)
	}
	if len(got.Content) != 1 || got.Content[0].Text != "Hello" {
		t.Errorf("content = %+v", got.Content)
	}
	if got.Usage.InputTokens != 7 || got.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", got.Usage)
	}
}

func TestOpenAIResponseToAPI_ToolCalls(t *testing.T) {
	resp := decodeResponse(t, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
		{"id":"call_9","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"go\"}"}},
		{"type":"function","function":{"name":"broken","arguments":"{not json"}}
	]},"finish_reason":"tool_calls"}]}`)

	got, err := OpenAIResponseToAPI(resp, "glm-5", Options{})
	if err != nil {
		t.Fatalf("OpenAIResponseToAPI() error = %v", err)
	}
	if got.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q", got.StopReason)
	}
	if len(got.Content) != 2 {
		t.Fatalf("content = %+v", got.Content)
	}
	first := got.Content[0]
	if first.Type != "tool_use" || first.ID != "call_9" || !reflect.DeepEqual(first.Input, map[string]any{"q": "go"}) {
		t.Errorf("first block = %+v", first)
	}
	second := got.Content[1]
	if !strings.HasPrefix(second.ID, "toolu_") {
		t.Errorf("generated id = %q", second.ID)
	}
	if !reflect.DeepEqual(second.Input, map[string]any{"_raw": "{not json"}) {
		t.Errorf("unparseable arguments lost: %+v", second.Input)
	}
}

func TestOpenAIResponseToAPI_Reasoning(t *testing.T) {
	body := `{"choices":[{"message":{"role":"assistant","content":"42","reasoning_content":"compute"},"finish_reason":"stop"}]}`

	merged, err := OpenAIResponseToAPI(decodeResponse(t, body), "glm-5", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Content) != 1 || merged.Content[0].Type != "text" || merged.Content[0].Text != "42" {
		t.Errorf("merge content = %+v", merged.Content)
	}

	preserved, err := OpenAIResponseToAPI(decodeResponse(t, body), "glm-5", Options{PreserveReasoning: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(preserved.Content) != 2 || preserved.Content[0].Thinking != "compute" || preserved.Content[1].Text != "42" {
		t.Errorf("preserve content = %+v", preserved.Content)
	}

	onlyReasoning := `{"choices":[{"message":{"role":"assistant","content":"","reasoning_content":"just thoughts"},"finish_reason":"stop"}]}`
	got, err := OpenAIResponseToAPI(decodeResponse(t, onlyReasoning), "glm-5", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content[0].Text != "just thoughts" {
		t.Errorf("reasoning should fill empty content: %+v", got.Content)
	}
}

func TestOpenAIResponseToAPI_NoChoices(t *testing.T) {
	if _, err := OpenAIResponseToAPI(&openai.ChatCompletionResponse{}, "glm-5", Options{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
