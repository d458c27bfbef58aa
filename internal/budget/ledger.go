package budget

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/internal/database"
)

// =============================================================================
// 📒 成本账本
// =============================================================================

// CostEntry 一次模型调用的成本记录
type CostEntry struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID        string    `gorm:"index;size:36" json:"project_id"`
	Category         string    `gorm:"size:32" json:"category"`
	Provider         string    `gorm:"size:32" json:"provider"`
	Model            string    `gorm:"size:64" json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TableName 固定表名与迁移脚本一致
func (CostEntry) TableName() string { return "cost_entries" }

// Ledger 持久化成本账本
type Ledger struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewLedger 创建成本账本
func NewLedger(pool *database.PoolManager, logger *zap.Logger) *Ledger {
	return &Ledger{
		pool:   pool,
		logger: logger.With(zap.String("component", "cost_ledger")),
	}
}

// Record 写入一条成本记录
func (l *Ledger) Record(ctx context.Context, entry *CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := l.pool.DB().WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	l.logger.Debug("cost recorded",
		zap.String("project_id", entry.ProjectID),
		zap.String("category", entry.Category),
		zap.Float64("cost", entry.Cost),
	)
	return nil
}

// TotalSince 返回某时间点以来的总花费
func (l *Ledger) TotalSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := l.pool.DB().WithContext(ctx).
		Model(&CostEntry{}).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error
	return total, err
}

// CategoryTotalsSince 返回某时间点以来按分类汇总的花费
func (l *Ledger) CategoryTotalsSince(ctx context.Context, since time.Time) (map[string]float64, error) {
	type row struct {
		Category string
		Total    float64
	}
	var rows []row
	err := l.pool.DB().WithContext(ctx).
		Model(&CostEntry{}).
		Where("created_at >= ?", since).
		Select("category, COALESCE(SUM(cost), 0) AS total").
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64, len(rows))
	for _, r := range rows {
		totals[r.Category] = r.Total
	}
	return totals, nil
}

// ProjectTotal 返回单个项目的总花费
func (l *Ledger) ProjectTotal(ctx context.Context, projectID string) (float64, error) {
	var total float64
	err := l.pool.DB().WithContext(ctx).
		Model(&CostEntry{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error
	return total, err
}
