package openai

import (
	"encoding/json"
	"testing"
)

type chunkView struct {
	Choices []struct {
		Delta map[string]any `json:"delta"`
	} `json:"choices"`
}

func deltaOf(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var v chunkView
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if len(v.Choices) == 0 {
		t.Fatalf("no choices in %s", data)
	}
	return v.Choices[0].Delta
}

func TestNormalizeChunk(t *testing.T) {
	tests := []struct {
		name          string
		in            string
		preserve      bool
		wantContent   any
		wantReasoning any
	}{
		{"merge moves reasoning", `{"choices":[{"delta":{"reasoning_content":"think"}}]}`, false, "think", nil},
		{"merge leaves content", `{"choices":[{"delta":{"content":"answer"}}]}`, false, "answer", nil},
		{"preserve keeps reasoning", `{"choices":[{"delta":{"reasoning_content":"think"}}]}`, true, nil, "think"},
		{"duplicate text collapses", `{"choices":[{"delta":{"content":"x","reasoning_content":"x"}}]}`, true, "x", nil},
		{"empty reasoning dropped", `{"choices":[{"delta":{"content":"a","reasoning_content":""}}]}`, true, "a", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NormalizeChunk([]byte(tt.in), tt.preserve)
			if err != nil {
				t.Fatalf("NormalizeChunk() error = %v", err)
			}
			d := deltaOf(t, out)
			if d["content"] != tt.wantContent {
				t.Errorf("content = %v, want %v", d["content"], tt.wantContent)
			}
			if d["reasoning_content"] != tt.wantReasoning {
				t.Errorf("reasoning_content = %v, want %v", d["reasoning_content"], tt.wantReasoning)
			}
		})
	}
}

func TestNormalizeChunkMergeNeverEmitsBoth(t *testing.T) {
	stream := []string{
		`{"choices":[{"delta":{"reasoning_content":"Let me "}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"think."}}]}`,
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":"!"},"finish_reason":"stop"}]}`,
	}
	var transcript string
	for _, chunk := range stream {
		out, err := NormalizeChunk([]byte(chunk), false)
		if err != nil {
			t.Fatal(err)
		}
		d := deltaOf(t, out)
		if _, both := d["reasoning_content"]; both {
			t.Fatalf("merged chunk still carries reasoning_content: %s", out)
		}
		s, _ := d["content"].(string)
		transcript += s
	}
	if transcript != "Let me think.Hello!" {
		t.Errorf("transcript = %q", transcript)
	}
}

func TestNormalizeResponse(t *testing.T) {
	in := `{"id":"x","usage":{"total_tokens":12},"choices":[{"message":{"role":"assistant","content":"","reasoning_content":"thought"}}]}`

	merged, err := NormalizeResponse([]byte(in), false)
	if err != nil {
		t.Fatal(err)
	}
	var m struct {
		Usage struct {
			TotalTokens json.Number `json:"total_tokens"`
		} `json:"usage"`
		Choices []struct {
			Message map[string]any `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(merged, &m); err != nil {
		t.Fatal(err)
	}
	if m.Choices[0].Message["content"] != "thought" {
		t.Errorf("merge content = %v", m.Choices[0].Message["content"])
	}
	if _, ok := m.Choices[0].Message["reasoning_content"]; ok {
		t.Error("merge should drop reasoning_content")
	}
	if m.Usage.TotalTokens != "12" {
		t.Errorf("usage lost: %s", merged)
	}

	preserved, err := NormalizeResponse([]byte(in), true)
	if err != nil {
		t.Fatal(err)
	}
	m.Choices = nil
	if err := json.Unmarshal(preserved, &m); err != nil {
		t.Fatal(err)
	}
	msg := m.Choices[0].Message
	if msg["content"] != "thought" || msg["reasoning_content"] != "thought" {
		t.Errorf("preserve message = %v", msg)
	}
}
