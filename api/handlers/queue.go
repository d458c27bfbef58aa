package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// ☠️ 死信队列接口
// =============================================================================

// DeadLetterSource reads messages that exhausted their delivery attempts.
type DeadLetterSource interface {
	DeadLetters(ctx context.Context, limit int64) ([]*types.Message, error)
}

// QueueHandler 队列运维处理器
type QueueHandler struct {
	source DeadLetterSource
	logger *zap.Logger
}

// NewQueueHandler 创建队列处理器
func NewQueueHandler(source DeadLetterSource, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		source: source,
		logger: logger.With(zap.String("handler", "queue")),
	}
}

// HandleDeadLetters 处理 GET /queue/dead-letters?limit=
func (h *QueueHandler) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	messages, err := h.source.DeadLetters(r.Context(), limit)
	if err != nil {
		WriteFromError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}
