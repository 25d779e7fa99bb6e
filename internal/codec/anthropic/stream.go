package anthropic

import (
	"github.com/lexandersaw/iflow2api/internal/api/anthropic"
	"github.com/lexandersaw/iflow2api/internal/api/openai"
)

// Event is one Messages SSE event: the event name and its JSON payload.
type Event struct {
	Name string
	Data any
}

// BlockKind is the kind of content block currently open in the output stream.
type BlockKind int

const (
	BlockNone BlockKind = iota
	BlockReasoning
	BlockContent
	BlockTool
)

func (k BlockKind) String() string {
	switch k {
	case BlockReasoning:
		return "reasoning"
	case BlockContent:
		return "content"
	case BlockTool:
		return "tool"
	default:
		return "none"
	}
}

// StreamTranslator reshapes upstream chat-completion chunks into Messages
// stream events. Chunks are translated in arrival order; the only state kept
// is which block is open, so every block is opened and closed exactly once
// and blocks never overlap.
type StreamTranslator struct {
	model string
	id    string
	opts  Options

	state     BlockKind
	openIndex int
	nextIndex int

	// upstream tool-call index -> output block index
	toolBlocks  map[int]int
	currentTool int

	stopReason   string
	inputTokens  int
	outputTokens int
	sawUsage     bool
	estimated    int
}

// NewStreamTranslator creates a translator for one response stream.
func NewStreamTranslator(model string, opts Options) *StreamTranslator {
	return &StreamTranslator{
		model:       model,
		id:          "msg_" + shortID(),
		opts:        opts,
		toolBlocks:  make(map[int]int),
		currentTool: -1,
		stopReason:  "end_turn",
	}
}

// State returns the currently open block kind.
func (s *StreamTranslator) State() BlockKind {
	return s.state
}

// Start returns the message_start event.
func (s *StreamTranslator) Start() []Event {
	return []Event{{
		Name: "message_start",
		Data: anthropic.MessageStartEvent{
			Type: "message_start",
			Message: anthropic.MessagesResponse{
				ID:      s.id,
				Type:    "message",
				Role:    "assistant",
				Content: []anthropic.ResponseContent{},
				Model:   s.model,
			},
		},
	}}
}

// Feed translates one upstream chunk.
func (s *StreamTranslator) Feed(chunk *openai.ChatCompletionChunk) []Event {
	var events []Event

	if chunk.Usage != nil {
		s.sawUsage = true
		s.inputTokens = chunk.Usage.PromptTokens
		s.outputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	// Upstream sends reasoning and content in separate chunks; if both ever
	// arrive together, reasoning goes first.
	if delta.ReasoningContent != "" {
		if s.opts.PreserveReasoning {
			events = append(events, s.transition(BlockReasoning, -1)...)
			events = append(events, s.delta(anthropic.BlockDelta{Type: "thinking_delta", Thinking: delta.ReasoningContent}))
		} else {
			events = append(events, s.transition(BlockContent, -1)...)
			events = append(events, s.delta(anthropic.BlockDelta{Type: "text_delta", Text: delta.ReasoningContent}))
		}
		s.estimated += len(delta.ReasoningContent) / 4
	}
	if delta.Content != "" {
		events = append(events, s.transition(BlockContent, -1)...)
		events = append(events, s.delta(anthropic.BlockDelta{Type: "text_delta", Text: delta.Content}))
		s.estimated += len(delta.Content) / 4
	}

	for _, tc := range delta.ToolCalls {
		events = append(events, s.toolCall(tc)...)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.stopReason = MapFinishReason(*choice.FinishReason)
	}
	return events
}

// Finish closes any open block and returns the terminal events.
func (s *StreamTranslator) Finish() []Event {
	events := s.transition(BlockNone, -1)

	output := s.outputTokens
	if !s.sawUsage {
		output = s.estimated
	}
	events = append(events,
		Event{Name: "message_delta", Data: anthropic.MessageDeltaEvent{
			Type:  "message_delta",
			Delta: anthropic.MessageDelta{StopReason: s.stopReason},
			Usage: &anthropic.DeltaUsage{OutputTokens: output},
		}},
		Event{Name: "message_stop", Data: anthropic.MessageStopEvent{Type: "message_stop"}},
	)
	return events
}

func (s *StreamTranslator) toolCall(tc openai.ToolCallChunk) []Event {
	var events []Event
	var name, args string
	if tc.Function != nil {
		name, args = tc.Function.Name, tc.Function.Arguments
	}

	if _, seen := s.toolBlocks[tc.Index]; !seen {
		id := tc.ID
		if id == "" {
			id = "toolu_" + shortID()
		}
		events = append(events, s.transition(BlockTool, tc.Index)...)
		s.toolBlocks[tc.Index] = s.openIndex
		events[len(events)-1].Data = anthropic.ContentBlockStartEvent{
			Type:  "content_block_start",
			Index: s.openIndex,
			ContentBlock: anthropic.ToolUseBlockStart{
				Type:  "tool_use",
				ID:    id,
				Name:  name,
				Input: map[string]any{},
			},
		}
	}

	// Argument fragments for a call whose block was already closed cannot be
	// delivered without reopening it; they are dropped.
	if args != "" && s.state == BlockTool && s.currentTool == tc.Index {
		events = append(events, s.delta(anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: args}))
	}
	return events
}

// transition moves the state machine to kind, closing the open block and
// opening a new one when the kind (or, for tools, the call) changes.
func (s *StreamTranslator) transition(kind BlockKind, toolIndex int) []Event {
	if s.state == kind && (kind != BlockTool || s.currentTool == toolIndex) {
		return nil
	}

	var events []Event
	if s.state != BlockNone {
		events = append(events, Event{Name: "content_block_stop", Data: anthropic.ContentBlockStopEvent{
			Type:  "content_block_stop",
			Index: s.openIndex,
		}})
	}

	s.state = kind
	s.currentTool = -1
	if kind == BlockNone {
		return events
	}

	s.openIndex = s.nextIndex
	s.nextIndex++

	var block any
	switch kind {
	case BlockReasoning:
		block = anthropic.ThinkingBlockStart{Type: "thinking"}
	case BlockContent:
		block = anthropic.TextBlockStart{Type: "text"}
	case BlockTool:
		s.currentTool = toolIndex
	}
	return append(events, Event{Name: "content_block_start", Data: anthropic.ContentBlockStartEvent{
		Type:         "content_block_start",
		Index:        s.openIndex,
		ContentBlock: block,
	}})
}

func (s *StreamTranslator) delta(d anthropic.BlockDelta) Event {
	return Event{Name: "content_block_delta", Data: anthropic.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: s.openIndex,
		Delta: d,
	}}
}
