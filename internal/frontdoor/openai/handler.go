// Package openai serves the OpenAI-compatible chat completions surface.
// Request bodies pass through to the upstream with model defaults applied.
package openai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lexandersaw/iflow2api/internal/api/openai"
	"github.com/lexandersaw/iflow2api/internal/codec"
	codecopenai "github.com/lexandersaw/iflow2api/internal/codec/openai"
	"github.com/lexandersaw/iflow2api/internal/domain"
	"github.com/lexandersaw/iflow2api/internal/modelrules"
	"github.com/lexandersaw/iflow2api/internal/server"
	"github.com/lexandersaw/iflow2api/internal/upstream"
)

const maxRequestBody = 32 << 20

type Handler struct {
	client       *upstream.Client
	rules        modelrules.Table
	defaultModel string
	preserve     bool
	logger       *slog.Logger
}

func NewHandler(client *upstream.Client, defaultModel string, preserve bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:       client,
		rules:        modelrules.Default,
		defaultModel: defaultModel,
		preserve:     preserve,
		logger:       logger,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		codec.WriteError(w, err, codec.FormatOpenAI)
		return
	}

	model, _ := body["model"].(string)
	if model == "" {
		model = h.defaultModel
		body["model"] = model
	}
	if rule := h.rules.Apply(model, body); rule != "" {
		server.AddLogField(r.Context(), "model_rule", rule)
	}
	server.AddLogField(r.Context(), "model", model)

	if stream, _ := body["stream"].(bool); stream {
		h.handleStream(w, r, body)
		return
	}

	data, err := h.client.ChatCompletion(r.Context(), body)
	if err != nil {
		server.AddError(r.Context(), err)
		codec.WriteError(w, err, codec.FormatOpenAI)
		return
	}
	out, err := codecopenai.NormalizeResponse(data, h.preserve)
	if err != nil {
		codec.WriteError(w, domain.ErrServer(err.Error()).WithStatusCode(http.StatusBadGateway), codec.FormatOpenAI)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, body map[string]any) {
	stream, err := h.client.StreamChatCompletion(r.Context(), body)
	if err != nil {
		server.AddError(r.Context(), err)
		codec.WriteError(w, err, codec.FormatOpenAI)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		codec.WriteError(w, domain.ErrServer("streaming not supported"), codec.FormatOpenAI)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	for {
		data, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are already sent; report in-band and stop.
			server.AddError(r.Context(), err)
			writeEvent(bw, codec.FormatOpenAIError(err).Body)
			bw.Flush()
			flusher.Flush()
			return
		}
		out, err := codecopenai.NormalizeChunk(data, h.preserve)
		if err != nil {
			h.logger.Debug("passing through non-JSON upstream chunk",
				slog.String("request_id", server.GetRequestID(r.Context())),
				slog.String("error", err.Error()))
			out = data
		}
		writeEvent(bw, out)
		if err := bw.Flush(); err != nil {
			return
		}
		flusher.Flush()
	}
	writeEvent(bw, []byte("[DONE]"))
	bw.Flush()
	flusher.Flush()
}

func writeEvent(w io.Writer, data []byte) {
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

// HandleListModels handles GET /v1/models.
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	created := time.Now().Unix()
	list := openai.ModelList{Object: "list"}
	for _, id := range modelrules.Catalog {
		list.Data = append(list.Data, openai.Model{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: "iflow",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func decodeBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, domain.ErrInvalidRequest("failed to read request body: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, domain.ErrInvalidRequest("invalid JSON body: %v", err)
	}
	if body == nil {
		return nil, domain.ErrInvalidRequest("request body must be a JSON object")
	}
	if _, ok := body["messages"].([]any); !ok {
		return nil, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "messages is required").WithParam("messages")
	}
	return body, nil
}
