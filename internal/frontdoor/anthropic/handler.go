// Package anthropic serves the Messages API by translating to and from the
// upstream chat-completions format.
package anthropic

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/lexandersaw/iflow2api/internal/api/anthropic"
	"github.com/lexandersaw/iflow2api/internal/api/openai"
	"github.com/lexandersaw/iflow2api/internal/codec"
	codecanthropic "github.com/lexandersaw/iflow2api/internal/codec/anthropic"
	"github.com/lexandersaw/iflow2api/internal/domain"
	"github.com/lexandersaw/iflow2api/internal/modelrules"
	"github.com/lexandersaw/iflow2api/internal/server"
	"github.com/lexandersaw/iflow2api/internal/tokens"
	"github.com/lexandersaw/iflow2api/internal/upstream"
)

const maxRequestBody = 32 << 20

type Handler struct {
	client       *upstream.Client
	counter      *tokens.Counter
	rules        modelrules.Table
	defaultModel string
	opts         codecanthropic.Options
	logger       *slog.Logger
}

func NewHandler(client *upstream.Client, defaultModel string, preserve bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:       client,
		counter:      tokens.NewCounter(),
		rules:        modelrules.Default,
		defaultModel: defaultModel,
		opts:         codecanthropic.Options{PreserveReasoning: preserve},
		logger:       logger,
	}
}

// HandleMessages handles POST /v1/messages.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		codec.WriteError(w, err, codec.FormatAnthropic)
		return
	}
	if len(req.Messages) == 0 {
		codec.WriteError(w, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "messages: at least one message is required").WithParam("messages"), codec.FormatAnthropic)
		return
	}

	requested := req.Model
	req.Model = modelrules.Resolve(req.Model, h.defaultModel)
	server.AddLogField(r.Context(), "requested_model", requested)
	server.AddLogField(r.Context(), "model", req.Model)

	body, err := h.upstreamBody(r, req)
	if err != nil {
		codec.WriteError(w, err, codec.FormatAnthropic)
		return
	}

	if req.Stream {
		h.handleStream(w, r, requested, body)
		return
	}

	data, err := h.client.ChatCompletion(r.Context(), body)
	if err != nil {
		server.AddError(r.Context(), err)
		codec.WriteError(w, err, codec.FormatAnthropic)
		return
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		codec.WriteError(w, domain.ErrServer(fmt.Sprintf("invalid upstream response: %v", err)).WithStatusCode(http.StatusBadGateway), codec.FormatAnthropic)
		return
	}
	out, err := codecanthropic.OpenAIResponseToAPI(&resp, requested, h.opts)
	if err != nil {
		codec.WriteError(w, err, codec.FormatAnthropic)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// upstreamBody converts req into a chat-completions body with the model
// rule table applied.
func (h *Handler) upstreamBody(r *http.Request, req *anthropic.MessagesRequest) (map[string]any, error) {
	oreq, err := codecanthropic.APIRequestToOpenAI(req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(oreq)
	if err != nil {
		return nil, domain.ErrServer(fmt.Sprintf("encode upstream request: %v", err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, domain.ErrServer(fmt.Sprintf("encode upstream request: %v", err))
	}
	if rule := h.rules.Apply(req.Model, body); rule != "" {
		server.AddLogField(r.Context(), "model_rule", rule)
	}
	return body, nil
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, model string, body map[string]any) {
	stream, err := h.client.StreamChatCompletion(r.Context(), body)
	if err != nil {
		server.AddError(r.Context(), err)
		codec.WriteError(w, err, codec.FormatAnthropic)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		codec.WriteError(w, domain.ErrServer("streaming not supported"), codec.FormatAnthropic)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	emit := func(events []codecanthropic.Event) error {
		for _, ev := range events {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				return err
			}
			fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", ev.Name, data)
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	tr := codecanthropic.NewStreamTranslator(model, h.opts)
	if err := emit(tr.Start()); err != nil {
		return
	}
	for {
		data, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			server.AddError(r.Context(), err)
			if r.Context().Err() != nil {
				return
			}
			fmt.Fprintf(bw, "event: error\ndata: %s\n\n", codec.FormatAnthropicError(err).Body)
			bw.Flush()
			flusher.Flush()
			return
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			h.logger.Debug("skipping non-JSON upstream chunk",
				slog.String("request_id", server.GetRequestID(r.Context())),
				slog.String("error", err.Error()))
			continue
		}
		if err := emit(tr.Feed(&chunk)); err != nil {
			return
		}
	}
	emit(tr.Finish())
}

// HandleCountTokens handles POST /v1/messages/count_tokens.
func (h *Handler) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		codec.WriteError(w, err, codec.FormatAnthropic)
		return
	}
	n, err := h.counter.CountRequest(req)
	if err != nil {
		codec.WriteError(w, domain.ErrServer(err.Error()), codec.FormatAnthropic)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(anthropic.CountTokensResponse{InputTokens: n})
}

func decodeRequest(r *http.Request) (*anthropic.MessagesRequest, error) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		return nil, domain.ErrInvalidRequest("invalid request body: %v", err)
	}
	return &req, nil
}
