package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// ✍️ 生成接口
// =============================================================================
// POST /generate       异步：建项目、入队，立即返回 202
// POST /generate/sync  同步：建项目、原地跑完整条流水线后返回终态
// 预算节流时两者都直接拒绝，不建项目。
// =============================================================================

// ProjectStore is the persistence surface the handlers need.
type ProjectStore interface {
	Create(ctx context.Context, p *types.Project) error
	Get(ctx context.Context, id string) (*types.Project, error)
	List(ctx context.Context, status types.Status, limit int64) ([]*types.Project, error)
}

// Runner executes the full pipeline synchronously.
type Runner interface {
	Run(ctx context.Context, projectID string) (*types.Project, error)
}

// Enqueuer kicks off asynchronous pipeline execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, projectID string) error
}

// Throttle reports whether new generation work should be rejected.
type Throttle interface {
	IsThrottled(ctx context.Context) bool
}

// GenerateRequest is the body for both generate endpoints.
type GenerateRequest struct {
	Topic          string   `json:"topic"`
	PrimaryKeyword string   `json:"primary_keyword,omitempty"`
	Audience       string   `json:"audience,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	WordCount      int      `json:"word_count,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
}

// GenerateHandler 生成请求处理器
type GenerateHandler struct {
	store    ProjectStore
	runner   Runner
	enqueuer Enqueuer
	throttle Throttle
	logger   *zap.Logger
}

// NewGenerateHandler 创建生成处理器。throttle 可为 nil。
func NewGenerateHandler(store ProjectStore, runner Runner, enqueuer Enqueuer, throttle Throttle, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		store:    store,
		runner:   runner,
		enqueuer: enqueuer,
		throttle: throttle,
		logger:   logger.With(zap.String("handler", "generate")),
	}
}

// HandleGenerate 处理 POST /generate
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	proj, ok := h.acceptProject(w, r)
	if !ok {
		return
	}

	if err := h.enqueuer.Enqueue(r.Context(), proj.ID); err != nil {
		h.logger.Error("failed to enqueue project",
			zap.String("project_id", proj.ID),
			zap.Error(err),
		)
		WriteFromError(w, err, h.logger)
		return
	}

	h.logger.Info("project enqueued",
		zap.String("project_id", proj.ID),
		zap.String("topic", proj.Topic),
	)
	WriteAccepted(w, map[string]any{
		"project_id": proj.ID,
		"status":     proj.Status,
	})
}

// HandleGenerateSync 处理 POST /generate/sync
func (h *GenerateHandler) HandleGenerateSync(w http.ResponseWriter, r *http.Request) {
	proj, ok := h.acceptProject(w, r)
	if !ok {
		return
	}

	result, err := h.runner.Run(r.Context(), proj.ID)
	if err != nil {
		// 终态项目随错误一并返回，便于排查哪个阶段挂了
		WriteFromError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// acceptProject 校验请求、检查节流并落盘新项目
func (h *GenerateHandler) acceptProject(w http.ResponseWriter, r *http.Request) (*types.Project, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}

	if h.throttle != nil && h.throttle.IsThrottled(r.Context()) {
		WriteError(w, types.NewError(types.ErrBudgetExceeded, "daily budget exhausted, generation paused").
			WithHTTPStatus(http.StatusTooManyRequests), h.logger)
		return nil, false
	}

	var req GenerateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	if strings.TrimSpace(req.Topic) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "topic is required", h.logger)
		return nil, false
	}

	proj := newProject(req)
	if err := h.store.Create(r.Context(), proj); err != nil {
		WriteFromError(w, err, h.logger)
		return nil, false
	}
	return proj, true
}

// newProject 从请求构造项目文档
func newProject(req GenerateRequest) *types.Project {
	meta := make(map[string]any)
	if req.PrimaryKeyword != "" {
		meta["primary_keyword"] = req.PrimaryKeyword
	}
	if req.Audience != "" {
		meta["audience"] = req.Audience
	}
	if req.Tone != "" {
		meta["tone"] = req.Tone
	}
	if req.WordCount > 0 {
		meta["word_count"] = fmt.Sprintf("%d", req.WordCount)
	}
	if len(req.Platforms) > 0 {
		meta["platforms"] = strings.Join(req.Platforms, ",")
	}

	return &types.Project{
		ID:       uuid.NewString(),
		Topic:    strings.TrimSpace(req.Topic),
		Status:   types.StatusCreated,
		Metadata: meta,
	}
}
