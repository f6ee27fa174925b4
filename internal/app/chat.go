package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
	"chatdesk/gateway/internal/observability"
	"chatdesk/gateway/internal/reducer"
	"chatdesk/gateway/internal/runner"
	"chatdesk/gateway/internal/service/agent"
	"chatdesk/gateway/internal/service/normalizer"
	"chatdesk/gateway/internal/stream"
)

const (
	chatIDHeader       = "X-Chat-Id"
	maxChatBodyBytes   = 8 << 20
	persistChatTimeout = 10 * time.Second
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "invalid request body", nil)
		return
	}
	limit, err := s.recursionLimit(req.RecursionLimit)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	requestID := observability.RequestIDFrom(r.Context())
	messages, err := normalizer.Normalize(req.Messages, normalizer.Options{
		RequestID:       requestID,
		DocumentContext: req.DocumentContext,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if len(messages) == 0 {
		writeErr(w, http.StatusBadRequest, "invalid_request", "messages are required", nil)
		return
	}

	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		chatID = uuid.NewString()
	}
	scope := domain.RequestScope{
		RequestID:        requestID,
		ChatID:           chatID,
		DocumentContext:  req.DocumentContext,
		DateTimeContext:  req.DateTimeContext,
		WebSearchOptions: req.WebSearchOptions,
		ToolPreferences:  s.toolPreferences(req.ToolPreferences),
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported by this connection", nil)
		return
	}
	w.Header().Set(chatIDHeader, chatID)

	folded := reducer.New()
	emitter := stream.NewEmitter(stream.Tee(sse, folded))
	result, perr := s.agent.Process(r.Context(), agent.ProcessParams{
		Scope:          scope,
		History:        normalizer.WithSystemPrompt(messages, s.cfg.Model.SystemPrompt, req.DateTimeContext),
		GenerateConfig: s.generateConfig(),
		RecursionLimit: limit,
	}, emitter)

	entry := observability.RequestLogger(r).WithFields(logger.Fields{
		"chat_id":         chatID,
		"status":          result.Status,
		"reason":          result.Reason,
		"steps":           result.Steps,
		"tool_executions": result.ToolExecutions,
	})
	if perr != nil {
		entry = entry.WithField("error_code", perr.Code)
		switch perr.Code {
		case agent.ErrorCodeClientClosed, agent.ErrorCodeStreamFailed:
			entry.Info("chat stream closed early")
		default:
			entry.WithError(perr).Warn("chat turn failed")
			if !folded.Done() {
				// nothing terminal reached the client yet
				_ = emitter.Error(perr.Message)
				_ = emitter.Done()
			}
		}
	} else {
		entry.Info("chat turn finished")
	}

	s.persistChat(r.Context(), entry, chatID, messages, result.MessageID, folded)
}

// persistChat stores the normalized input plus the assistant turn as the client folded it.
func (s *Server) persistChat(ctx context.Context, entry *logger.LogEntry, chatID string, input []domain.Message, messageID string, folded *reducer.Reducer) {
	history := append([]domain.Message(nil), input...)
	if content := folded.Content(); len(content) > 0 {
		history = append(history, folded.Message(messageID))
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistChatTimeout)
	defer cancel()
	if _, err := s.store.SaveChat(saveCtx, chatID, history); err != nil {
		entry.WithError(err).Warn("persist chat failed")
	}
}

func (s *Server) recursionLimit(requested *int) (int, error) {
	if requested == nil {
		return s.cfg.Agent.RecursionLimit, nil
	}
	limit := *requested
	if limit <= 0 || limit > s.cfg.Agent.MaxRecursionLimit {
		return 0, fmt.Errorf("recursionLimit must be between 1 and %d", s.cfg.Agent.MaxRecursionLimit)
	}
	return limit, nil
}

// toolPreferences overlays the request flags on the configured defaults.
func (s *Server) toolPreferences(requested map[string]bool) map[string]bool {
	return lo.Assign(s.cfg.DefaultToolPreferences(), requested)
}

func (s *Server) generateConfig() runner.GenerateConfig {
	return runner.GenerateConfig{
		ProviderID: s.cfg.Model.Provider,
		Model:      s.cfg.Model.Model,
		APIKey:     s.cfg.Model.APIKey,
		BaseURL:    s.cfg.Model.BaseURL,
		TimeoutMS:  int(s.cfg.ModelTimeout().Milliseconds()),
		MaxTokens:  s.cfg.Model.MaxTokens,
	}
}
