package codec

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexandersaw/iflow2api/internal/domain"
)

func TestFormatAnthropicError(t *testing.T) {
	err := domain.NewAPIError(domain.ErrorTypeRateLimit, "slow down").WithStatusCode(http.StatusTooManyRequests)

	resp := FormatAnthropicError(err)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}

	var body struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Type != "error" || body.Error.Type != "rate_limit_error" || body.Error.Message != "slow down" {
		t.Errorf("unexpected body: %s", resp.Body)
	}
}

func TestFormatOpenAIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"invalid request", domain.ErrInvalidRequest("bad %s", "tool_choice"), http.StatusBadRequest, "invalid_request_error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "server_error"},
		{"upstream status wins", domain.ErrServer("gateway").WithStatusCode(http.StatusBadGateway), http.StatusBadGateway, "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := FormatOpenAIError(tt.err)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body struct {
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Error.Type != tt.wantType {
				t.Errorf("type = %q, want %q", body.Error.Type, tt.wantType)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, domain.ErrInvalidRequest("nope"), FormatAnthropic)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
}
