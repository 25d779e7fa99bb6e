// Package codec renders canonical errors in the wire format of the frontdoor
// that received the request.
package codec

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexandersaw/iflow2api/internal/domain"
)

// Format identifies a frontdoor wire format.
type Format int

const (
	FormatOpenAI Format = iota
	FormatAnthropic
)

// ErrorResponse is a serialized error ready to be written.
type ErrorResponse struct {
	StatusCode int
	Body       []byte
}

// ToCanonicalError converts any error to a domain.APIError.
// If the error is already a domain.APIError, it returns it directly.
// Otherwise, it wraps the error in a generic server error.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return domain.ErrServer(err.Error())
}

// FormatOpenAIError formats an error as an OpenAI API error response.
func FormatOpenAIError(err error) *ErrorResponse {
	apiErr := ToCanonicalError(err)

	errObj := map[string]any{
		"message": apiErr.Message,
		"type":    mapDomainToOpenAIErrorType(apiErr.Type),
	}
	if apiErr.Param != "" {
		errObj["param"] = apiErr.Param
	}
	if apiErr.StatusCode != 0 {
		errObj["code"] = apiErr.StatusCode
	}

	body, _ := json.Marshal(map[string]any{"error": errObj})
	return &ErrorResponse{StatusCode: apiErr.HTTPStatusCode(), Body: body}
}

func mapDomainToOpenAIErrorType(t domain.ErrorType) string {
	switch t {
	case domain.ErrorTypeInvalidRequest:
		return "invalid_request_error"
	case domain.ErrorTypeAuthentication:
		return "authentication_error"
	case domain.ErrorTypePermission:
		return "permission_denied"
	case domain.ErrorTypeNotFound:
		return "not_found"
	case domain.ErrorTypeRateLimit:
		return "rate_limit_error"
	case domain.ErrorTypeOverloaded:
		return "service_unavailable"
	default:
		return "server_error"
	}
}

// FormatAnthropicError formats an error as an Anthropic API error response.
func FormatAnthropicError(err error) *ErrorResponse {
	apiErr := ToCanonicalError(err)

	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    mapDomainToAnthropicErrorType(apiErr.Type),
			"message": apiErr.Message,
		},
	})
	return &ErrorResponse{StatusCode: apiErr.HTTPStatusCode(), Body: body}
}

func mapDomainToAnthropicErrorType(t domain.ErrorType) string {
	switch t {
	case domain.ErrorTypeInvalidRequest:
		return "invalid_request_error"
	case domain.ErrorTypeAuthentication:
		return "authentication_error"
	case domain.ErrorTypePermission:
		return "permission_error"
	case domain.ErrorTypeNotFound:
		return "not_found_error"
	case domain.ErrorTypeRateLimit:
		return "rate_limit_error"
	case domain.ErrorTypeOverloaded:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// WriteError writes an error response in the given format.
func WriteError(w http.ResponseWriter, err error, format Format) {
	var resp *ErrorResponse
	if format == FormatAnthropic {
		resp = FormatAnthropicError(err)
	} else {
		resp = FormatOpenAIError(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
