package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 📡 项目进度推送
// =============================================================================
// GET /projects/{id}/events 升级为 websocket，轮询文档库并在状态或花费
// 变化时推送一条进度事件，项目到达终态后推送最后一条并正常关闭。
// 流水线消费组是单订阅方，这里不挂到事件总线上，避免抢走阶段消息。
// =============================================================================

// ProgressEvent 推送给客户端的进度事件
type ProgressEvent struct {
	ProjectID string       `json:"project_id"`
	Status    types.Status `json:"status"`
	TotalCost float64      `json:"total_cost"`
	Terminal  bool         `json:"terminal"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// EventsHandler 项目进度 websocket 处理器
type EventsHandler struct {
	store    ProjectStore
	interval time.Duration
	logger   *zap.Logger
}

// NewEventsHandler 创建进度推送处理器。interval <= 0 时默认 500ms。
func NewEventsHandler(store ProjectStore, interval time.Duration, logger *zap.Logger) *EventsHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &EventsHandler{
		store:    store,
		interval: interval,
		logger:   logger.With(zap.String("handler", "events")),
	}
}

// HandleEvents 处理 GET /projects/{id}/events
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// 升级前先确认项目存在，否则只能用 websocket 关闭码表达 404
	proj, err := h.store.Get(r.Context(), id)
	if err != nil {
		WriteFromError(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("project_id", id),
			zap.Error(err),
		)
		return
	}
	defer conn.CloseNow()

	// 客户端不发消息，CloseRead 在对端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	if done := h.push(ctx, conn, proj); done {
		conn.Close(websocket.StatusNormalClosure, "project reached terminal state")
		return
	}

	last := snapshot(proj)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		proj, err := h.store.Get(ctx, id)
		if err != nil {
			h.logger.Warn("progress poll failed",
				zap.String("project_id", id),
				zap.Error(err),
			)
			conn.Close(websocket.StatusInternalError, "project lookup failed")
			return
		}

		if cur := snapshot(proj); cur != last {
			last = cur
			if done := h.push(ctx, conn, proj); done {
				conn.Close(websocket.StatusNormalClosure, "project reached terminal state")
				return
			}
		}
	}
}

// push 推送一条进度事件，项目处于终态时返回 true
func (h *EventsHandler) push(ctx context.Context, conn *websocket.Conn, proj *types.Project) bool {
	terminal := proj.Status == types.StatusCompleted || proj.Status == types.StatusFailed
	event := ProgressEvent{
		ProjectID: proj.ID,
		Status:    proj.Status,
		TotalCost: proj.Costs.Total,
		Terminal:  terminal,
		UpdatedAt: proj.UpdatedAt,
	}
	if err := wsjson.Write(ctx, conn, event); err != nil {
		return true
	}
	return terminal
}

// snapshot 变化检测用的指纹
type progressKey struct {
	status types.Status
	cost   float64
}

func snapshot(p *types.Project) progressKey {
	return progressKey{status: p.Status, cost: p.Costs.Total}
}
