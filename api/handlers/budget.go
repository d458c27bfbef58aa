package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/internal/budget"
)

// =============================================================================
// 💵 预算接口
// =============================================================================

// BudgetReader exposes the spend snapshot used by GET /budget.
type BudgetReader interface {
	Snapshot(ctx context.Context) (*budget.Status, error)
}

// BudgetHandler 预算查询处理器
type BudgetHandler struct {
	reader BudgetReader
	logger *zap.Logger
}

// NewBudgetHandler 创建预算处理器
func NewBudgetHandler(reader BudgetReader, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		reader: reader,
		logger: logger.With(zap.String("handler", "budget")),
	}
}

// HandleBudget 处理 GET /budget
func (h *BudgetHandler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	status, err := h.reader.Snapshot(r.Context())
	if err != nil {
		WriteFromError(w, err, h.logger)
		return
	}
	WriteSuccess(w, status)
}
