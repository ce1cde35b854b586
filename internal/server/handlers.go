package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mattbnz/LLMux/internal/anthropic"
	"github.com/mattbnz/LLMux/internal/auth"
	"github.com/mattbnz/LLMux/internal/convert"
	"github.com/mattbnz/LLMux/internal/models"
	"github.com/mattbnz/LLMux/internal/stream"
	"github.com/mattbnz/LLMux/internal/types"
	"github.com/mattbnz/LLMux/internal/usage"
)

// handleChatCompletions handles POST /v1/chat/completions: the full
// OpenAI-to-Anthropic translation path.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteOpenAIError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Model == "" {
		WriteOpenAIError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		WriteOpenAIError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	res := models.Resolve(req.Model)

	body, err := convert.ChatToMessages(&req, convert.RequestOptions{
		Model:            res.Model,
		ReasoningLevel:   res.ReasoningLevel,
		DefaultMaxTokens: s.Config.DefaultMaxTokens,
		Continuity:       s.Continuity,
	})
	if err != nil {
		WriteOpenAIError(w, http.StatusBadRequest, err.Error())
		return
	}

	body = anthropic.Sanitize(body)
	body = anthropic.InjectSystemIdentity(body)
	body = anthropic.AddPromptCaching(body, s.Config.CacheTTL)
	if req.Stream {
		body, _ = sjson.SetBytes(body, "stream", true)
	}

	betas := anthropic.BuildBetaHeader(body, r.Header.Get("anthropic-beta"), res.ReasoningLevel, res.Use1MContext)

	if s.Config.Verbose {
		slog.Info("chat.request",
			"requested_model", req.Model,
			"backend_model", res.Model,
			"stream", req.Stream,
			"messages", len(req.Messages),
			"tools", len(req.Tools),
			"reasoning_level", res.ReasoningLevel,
		)
	}

	resp, err := s.Upstream.Messages(r.Context(), body, betas, "", req.Stream)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredentials) {
			WriteOpenAIError(w, http.StatusUnauthorized, err.Error())
			return
		}
		WriteOpenAIError(w, http.StatusBadGateway, err.Error())
		return
	}

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		relayBackendError(w, resp.StatusCode, errBody)
		return
	}

	keyID := KeyIDFromContext(r.Context())

	if req.Stream {
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		writeStreamHeaders(w)
		stream.TranslateChat(w, resp.Body, stream.TranslateChatOptions{
			Model:        req.Model,
			IncludeUsage: includeUsage,
			Continuity:   s.Continuity,
			OnUsage: func(u types.AnthropicUsage) {
				// The request context is already canceled when the client
				// dropped the stream; partial consumption is still billable.
				s.Recorder.Record(context.WithoutCancel(r.Context()), keyID, usage.FromAnthropic(res.Model, u))
			},
		})
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		WriteOpenAIError(w, http.StatusBadGateway, "failed to read backend response")
		return
	}
	var msg types.MessageResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		WriteOpenAIError(w, http.StatusBadGateway, "invalid backend response")
		return
	}

	s.Recorder.Record(r.Context(), keyID, usage.FromResponse(&msg))

	chat := convert.MessagesToChat(&msg, req.Model, s.Continuity)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chat)
}

// handleMessages handles POST /v1/messages: the request body is forwarded
// to the backend byte for byte, with only the beta header merged in. Usage
// is observed as a side channel without touching the payload.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if !gjson.ValidBytes(body) {
		WriteAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body")
		return
	}

	streaming := gjson.GetBytes(body, "stream").Bool()
	model := gjson.GetBytes(body, "model").String()

	betas := anthropic.BuildBetaHeader(body, r.Header.Get("anthropic-beta"), "", false)

	if s.Config.Verbose {
		slog.Info("messages.request", "model", model, "stream", streaming)
	}

	resp, err := s.Upstream.Messages(r.Context(), body, betas, r.Header.Get("anthropic-version"), streaming)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredentials) {
			WriteAnthropicError(w, http.StatusUnauthorized, "authentication_error", err.Error())
			return
		}
		WriteAnthropicError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		relayRaw(w, resp.StatusCode, errBody)
		return
	}

	keyID := KeyIDFromContext(r.Context())

	if streaming {
		writeStreamHeaders(w)
		u := stream.Passthrough(w, resp.Body)
		s.Recorder.Record(context.WithoutCancel(r.Context()), keyID, usage.FromAnthropic(model, u))
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		WriteAnthropicError(w, http.StatusBadGateway, "api_error", "failed to read backend response")
		return
	}

	var msg types.MessageResponse
	if json.Unmarshal(respBody, &msg) == nil {
		s.Recorder.Record(r.Context(), keyID, usage.FromResponse(&msg))
	}
	relayRaw(w, resp.StatusCode, respBody)
}

// handleListModels handles GET /v1/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	known := models.Known()
	list := types.ModelList{Object: "list", Data: make([]types.ModelObject, 0, len(known))}
	for _, id := range known {
		list.Data = append(list.Data, types.ModelObject{
			ID:      id,
			Object:  "model",
			OwnedBy: "anthropic",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// handleOAuthUsage handles GET /api/oauth/usage, relaying the backend's
// account usage endpoint behind a short cache.
func (s *Server) handleOAuthUsage(w http.ResponseWriter, r *http.Request) {
	if status, body, ok := s.oauthCache.Get(); ok {
		relayRaw(w, status, body)
		return
	}

	status, body, err := s.Upstream.OAuthUsage(r.Context())
	if err != nil {
		WriteOpenAIError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.oauthCache.Put(status, body)
	relayRaw(w, status, body)
}

// handleLocalUsage handles GET /api/usage, serving the locally recorded
// hourly aggregates for the last 24 hours.
func (s *Server) handleLocalUsage(w http.ResponseWriter, r *http.Request) {
	if s.usageStore == nil {
		WriteOpenAIError(w, http.StatusNotFound, "usage recording is disabled")
		return
	}
	rows, err := s.usageStore.Since(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		WriteOpenAIError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type costedRow struct {
		usage.HourlyRow
		EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	}
	out := make([]costedRow, 0, len(rows))
	for _, row := range rows {
		cost := models.PricingFor(row.Model).Cost(
			int(row.InputTokens), int(row.OutputTokens),
			int(row.CacheReadTokens), int(row.CacheCreationTokens))
		out = append(out, costedRow{HourlyRow: row, EstimatedCostUSD: cost})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"usage": out})
}

func writeStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func relayRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
