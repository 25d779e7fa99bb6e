// Package openai reshapes upstream chat-completion payloads for the
// OpenAI-compatible frontdoor. Unknown fields pass through untouched.
package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NormalizeResponse applies the reasoning mode to a non-streaming response.
//
// Merge: reasoning_content is removed; when content is empty the reasoning
// text takes its place.
// Preserve: reasoning_content is kept; when content is empty it is mirrored
// into content so content-only clients still see the answer.
func NormalizeResponse(data []byte, preserve bool) ([]byte, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	for _, choice := range choices(doc) {
		msg, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		content, _ := msg["content"].(string)
		reasoning, _ := msg["reasoning_content"].(string)
		if content == "" && reasoning != "" {
			msg["content"] = reasoning
		}
		if !preserve {
			delete(msg, "reasoning_content")
		}
	}
	return json.Marshal(doc)
}

// NormalizeChunk applies the reasoning mode to one streaming chunk.
//
// Merge: a reasoning delta is moved into content, so no emitted chunk ever
// carries both fields.
// Preserve: reasoning deltas stay in reasoning_content. A chunk repeating the
// same text in both fields keeps only content.
func NormalizeChunk(data []byte, preserve bool) ([]byte, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode upstream chunk: %w", err)
	}
	for _, choice := range choices(doc) {
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			continue
		}
		content, _ := delta["content"].(string)
		reasoning, hasReasoning := delta["reasoning_content"].(string)
		if !hasReasoning {
			continue
		}
		switch {
		case reasoning == "":
			delete(delta, "reasoning_content")
		case content == reasoning:
			delete(delta, "reasoning_content")
		case !preserve:
			delta["content"] = reasoning + content
			delete(delta, "reasoning_content")
		}
	}
	return json.Marshal(doc)
}

func decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func choices(doc map[string]any) []map[string]any {
	raw, _ := doc["choices"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		if m, ok := c.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
