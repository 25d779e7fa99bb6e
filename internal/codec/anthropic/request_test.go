package anthropic

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/lexandersaw/iflow2api/internal/api/anthropic"
	"github.com/lexandersaw/iflow2api/internal/api/openai"
	"github.com/lexandersaw/iflow2api/internal/domain"
)

func decodeRequest(t *testing.T, body string) *anthropic.MessagesRequest {
	t.Helper()
	var req anthropic.MessagesRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	return &req
}

func TestAPIRequestToOpenAI_SystemAndText(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "glm-5",
		"max_tokens": 1024,
		"system": [{"type":"text","text":"Be brief."},{"type":"text","text":"Be kind."}],
		"temperature": 0.2,
		"stop_sequences": ["END"],
		"metadata": {"user_id": "u1"},
		"messages": [
			{"role":"user","content":"hello"},
			{"role":"assistant","content":[{"type":"text","text":"hi"}]}
		]
	}`)

	got, err := APIRequestToOpenAI(req)
	if err != nil {
		t.Fatalf("APIRequestToOpenAI() error = %v", err)
	}

	if got.Model != "glm-5" || got.MaxTokens != 1024 || got.User != "u1" {
		t.Errorf("scalar fields not carried: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if !reflect.DeepEqual(got.Stop, []string{"END"}) {
		t.Errorf("stop = %v", got.Stop)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content.String() != "Be brief.\nBe kind." {
		t.Errorf("system message = %+v", got.Messages[0])
	}
	if got.Messages[1].Content.String() != "hello" || got.Messages[2].Content.String() != "hi" {
		t.Errorf("conversation not carried: %+v", got.Messages)
	}
}

func TestAPIRequestToOpenAI_Images(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "glm-4.6v",
		"max_tokens": 10,
		"messages": [{"role":"user","content":[
			{"type":"text","text":"what is this?"},
			{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"AAAA"}},
			{"type":"image","source":{"type":"url","url":"https://example.com/cat.png"}}
		]}]
	}`)

	got, err := APIRequestToOpenAI(req)
	if err != nil {
		t.Fatalf("APIRequestToOpenAI() error = %v", err)
	}

	parts := got.Messages[0].Content.Parts
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if parts[0].Type != "text" || parts[0].Text != "what is this?" {
		t.Errorf("part 0 = %+v", parts[0])
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/jpeg;base64,AAAA" {
		t.Errorf("part 1 = %+v", parts[1])
	}
	if parts[2].ImageURL == nil || parts[2].ImageURL.URL != "https://example.com/cat.png" {
		t.Errorf("part 2 = %+v", parts[2])
	}
}

func TestAPIRequestToOpenAI_Tools(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "glm-5",
		"max_tokens": 10,
		"tools": [{"name":"get_weather","description":"weather","input_schema":{"type":"object"}}],
		"tool_choice": {"type":"tool","name":"get_weather"},
		"messages": [
			{"role":"user","content":"weather?"},
			{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Paris"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":[{"type":"text","text":"sunny"}]}]}
		]
	}`)

	got, err := APIRequestToOpenAI(req)
	if err != nil {
		t.Fatalf("APIRequestToOpenAI() error = %v", err)
	}

	if len(got.Tools) != 1 || got.Tools[0].Type != "function" || got.Tools[0].Function.Name != "get_weather" {
		t.Fatalf("tools = %+v", got.Tools)
	}
	if !reflect.DeepEqual(got.Tools[0].Function.Parameters, map[string]any{"type": "object"}) {
		t.Errorf("input_schema not moved to parameters: %v", got.Tools[0].Function.Parameters)
	}

	choice, ok := got.ToolChoice.(openai.ToolChoiceFunction)
	if !ok || choice.Function.Name != "get_weather" {
		t.Errorf("tool_choice = %#v", got.ToolChoice)
	}

	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (tool_result-only turn adds no user message)", len(got.Messages))
	}
	call := got.Messages[1].ToolCalls[0]
	if call.ID != "toolu_1" || call.Function.Arguments != `{"city":"Paris"}` {
		t.Errorf("tool call = %+v", call)
	}
	if !got.Messages[1].Content.IsNull() {
		t.Errorf("assistant tool-call message should have null content")
	}
	tool := got.Messages[2]
	if tool.Role != "tool" || tool.ToolCallID != "toolu_1" || tool.Content.String() != "sunny" {
		t.Errorf("tool message = %+v", tool)
	}
}

func TestToolChoiceMapping(t *testing.T) {
	tests := []struct {
		choice  anthropic.ToolChoice
		want    any
		wantErr bool
	}{
		{anthropic.ToolChoice{Type: "auto"}, "auto", false},
		{anthropic.ToolChoice{Type: "none"}, "none", false},
		{anthropic.ToolChoice{Type: "any"}, "required", false},
		{anthropic.ToolChoice{Type: "tool"}, nil, true},
		{anthropic.ToolChoice{Type: "sometimes"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.choice.Type, func(t *testing.T) {
			req := &anthropic.MessagesRequest{Model: "glm-5", ToolChoice: &tt.choice}
			got, err := APIRequestToOpenAI(req)
			if tt.wantErr {
				var apiErr *domain.APIError
				if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeInvalidRequest {
					t.Fatalf("error = %v, want invalid request", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got.ToolChoice != tt.want {
				t.Errorf("tool_choice = %v, want %v", got.ToolChoice, tt.want)
			}
		})
	}
}

func TestAPIRequestToOpenAI_UnsupportedBlock(t *testing.T) {
	req := decodeRequest(t, `{"model":"glm-5","max_tokens":1,"messages":[{"role":"user","content":[{"type":"document","text":"x"}]}]}`)

	_, err := APIRequestToOpenAI(req)
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode() != 400 {
		t.Fatalf("error = %v, want 400 invalid request", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	original := decodeRequest(t, `{
		"model": "kimi-k2",
		"max_tokens": 50,
		"system": "You are terse.",
		"messages": [
			{"role":"user","content":[{"type":"text","text":"look"},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"QUJD"}}]},
			{"role":"assistant","content":"ok"},
			{"role":"user","content":"again"}
		]
	}`)

	upstream, err := APIRequestToOpenAI(original)
	if err != nil {
		t.Fatalf("APIRequestToOpenAI() error = %v", err)
	}
	back, err := OpenAIRequestToAPI(upstream)
	if err != nil {
		t.Fatalf("OpenAIRequestToAPI() error = %v", err)
	}

	if back.Model != original.Model {
		t.Errorf("model = %q, want %q", back.Model, original.Model)
	}
	if len(back.System) != 1 || back.System[0].Text != "You are terse." {
		t.Errorf("system = %+v", back.System)
	}
	if len(back.Messages) != len(original.Messages) {
		t.Fatalf("messages = %d, want %d", len(back.Messages), len(original.Messages))
	}
	for i := range original.Messages {
		if back.Messages[i].Role != original.Messages[i].Role {
			t.Errorf("messages[%d].role = %q, want %q", i, back.Messages[i].Role, original.Messages[i].Role)
		}
		if back.Messages[i].Content.String() != original.Messages[i].Content.String() {
			t.Errorf("messages[%d] text = %q, want %q", i, back.Messages[i].Content.String(), original.Messages[i].Content.String())
		}
	}
	img := back.Messages[0].Content[1]
	if img.Type != "image" || img.Source == nil || img.Source.Data != "QUJD" || img.Source.MediaType != "image/png" {
		t.Errorf("image block = %+v", img)
	}
}

func TestOpenAIRequestToAPI_ToolMessages(t *testing.T) {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal([]byte(`{
		"model":"glm-5",
		"tool_choice":"required",
		"messages":[
			{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]},
			{"role":"tool","tool_call_id":"c1","content":"done"},
			{"role":"user","content":"thanks"}
		]
	}`), &req); err != nil {
		t.Fatal(err)
	}

	got, err := OpenAIRequestToAPI(&req)
	if err != nil {
		t.Fatalf("OpenAIRequestToAPI() error = %v", err)
	}
	if got.ToolChoice == nil || got.ToolChoice.Type != "any" {
		t.Errorf("tool_choice = %+v", got.ToolChoice)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (tool result and text share one user turn)", len(got.Messages))
	}
	use := got.Messages[0].Content[0]
	if use.Type != "tool_use" || use.ID != "c1" || !reflect.DeepEqual(use.Input, map[string]any{"a": float64(1)}) {
		t.Errorf("tool_use = %+v", use)
	}
	user := got.Messages[1].Content
	if len(user) != 2 || user[0].Type != "tool_result" || user[1].Text != "thanks" {
		t.Errorf("user turn = %+v", user)
	}

	req.ToolChoice = "whenever"
	if _, err := OpenAIRequestToAPI(&req); err == nil {
		t.Error("unknown tool_choice should fail")
	}
}
