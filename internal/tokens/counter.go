// Package tokens estimates prompt sizes for /v1/messages/count_tokens. The
// upstream models publish no tokenizer, so o200k_base is used as a stand-in.
package tokens

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/lexandersaw/iflow2api/internal/api/anthropic"
)

// Per-message framing overhead, matching the usual chat-template cost.
const messageOverhead = 4

// Counter counts tokens in Messages requests.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewCounter creates a counter. The encoding is loaded on first use.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) load() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(tokenizer.O200kBase)
	})
	return c.codec, c.err
}

// CountRequest returns the estimated input tokens of req.
func (c *Counter) CountRequest(req *anthropic.MessagesRequest) (int, error) {
	codec, err := c.load()
	if err != nil {
		return 0, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	count := func(s string) int {
		if s == "" {
			return 0
		}
		ids, _, _ := codec.Encode(s)
		return len(ids)
	}

	total := 0
	for _, sys := range req.System {
		total += count(sys.Text)
	}
	for _, msg := range req.Messages {
		total += messageOverhead
		for _, part := range msg.Content {
			switch part.Type {
			case "", "text":
				total += count(part.Text)
			case "thinking":
				total += count(part.Thinking)
			case "tool_use":
				total += count(part.Name)
				if input, err := json.Marshal(part.Input); err == nil {
					total += count(string(input))
				}
			case "tool_result":
				text, _ := part.ToolResultText()
				total += count(text)
			}
		}
	}
	for _, tool := range req.Tools {
		total += count(tool.Name) + count(tool.Description)
		if schema, err := json.Marshal(tool.InputSchema); err == nil {
			total += count(string(schema))
		}
	}

	if total < 1 {
		total = 1
	}
	return total, nil
}
