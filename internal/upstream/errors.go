package upstream

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lexandersaw/iflow2api/internal/domain"
)

const maxErrorBody = 2048

// statusError converts a non-2xx upstream reply into a canonical error that
// keeps the upstream status code and its diagnostic message.
func statusError(status int, body []byte) *domain.APIError {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return domain.NewAPIError(domain.ErrorTypeForStatus(status), msg).WithStatusCode(status)
}

// errorMessage picks the most specific message from the shapes the upstream
// uses: {"msg"}, {"error":{"message"}}, {"error":"..."} or {"message"}.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "msg", "message", "error"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// businessError detects the upstream's HTTP 200 error envelope
// ({"status":"434","msg":"..."} with no choices).
func businessError(body []byte) *domain.APIError {
	if !gjson.ValidBytes(body) || gjson.GetBytes(body, "choices").Exists() {
		return nil
	}
	status := gjson.GetBytes(body, "status")
	msg := gjson.GetBytes(body, "msg")
	if !status.Exists() || !msg.Exists() {
		return nil
	}
	code := int(status.Int())
	if code < 400 || code > 599 {
		code = http.StatusBadGateway
	}
	return domain.NewAPIError(domain.ErrorTypeForStatus(code), fmt.Sprintf("upstream error %s: %s", status.String(), msg.String())).
		WithStatusCode(code)
}
