package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/mattbnz/LLMux/internal/types"
)

// WriteOpenAIError writes an OpenAI-shaped error response.
func WriteOpenAIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error: types.ErrorDetail{
			Message: message,
			Type:    openAIErrorType(status),
		},
	})
}

// WriteAnthropicError writes an Anthropic-shaped error response.
func WriteAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.AnthropicErrorResponse{
		Type: "error",
		Error: types.AnthropicError{
			Type:    errType,
			Message: message,
		},
	})
}

func openAIErrorType(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

// extractBackendErrorMessage pulls the message out of a backend error
// envelope, falling back to the raw body.
func extractBackendErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if len(body) > 0 {
		return string(body)
	}
	return ""
}

// relayBackendError translates a backend error response into the client's
// error shape, keeping the original status code.
func relayBackendError(w http.ResponseWriter, status int, body []byte) {
	msg := extractBackendErrorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", status)
	}
	WriteOpenAIError(w, status, msg)
}
