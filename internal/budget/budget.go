package budget

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 💵 预算控制器
// =============================================================================
// 每日预算与单项目预算独立检查。
// Enforce 开启时，超限的生成请求被拒绝（短路，不再调用模型）。
// 花费越过告警阈值时记录一次告警日志，每日重置。
// =============================================================================

// Config 预算配置
type Config struct {
	// 每日预算（USD）
	DailyLimit float64 `yaml:"daily_limit" json:"daily_limit"`
	// 单项目预算（USD）
	ProjectLimit float64 `yaml:"project_limit" json:"project_limit"`
	// 告警阈值（百分比，如 50/80/90/95）
	AlertThresholds []float64 `yaml:"alert_thresholds" json:"alert_thresholds"`
	// 是否强制执行
	Enforce bool `yaml:"enforce" json:"enforce"`
}

// DefaultConfig 返回默认预算配置
func DefaultConfig() Config {
	return Config{
		DailyLimit:      10.0,
		ProjectLimit:    1.0,
		AlertThresholds: []float64{50, 80, 90, 95},
		Enforce:         true,
	}
}

// Status 预算状态快照。TotalSpent 为累计总花费，Daily 为当日花费，
// PercentageUsed 与 IsThrottled 按当日花费对每日预算计算。
type Status struct {
	TotalSpent     float64            `json:"total_spent"`
	TotalBudget    float64            `json:"total_budget"`
	PercentageUsed float64            `json:"percentage_used"`
	Categories     map[string]float64 `json:"categories"`
	IsThrottled    bool               `json:"is_throttled"`
	Daily          float64            `json:"daily"`
	Enforce        bool               `json:"enforce"`
}

// Controller 预算控制器
type Controller struct {
	ledger *Ledger
	calc   *CostCalculator
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	alertedDay time.Time
	alerted    map[float64]bool
}

// NewController 创建预算控制器
func NewController(ledger *Ledger, calc *CostCalculator, config Config, logger *zap.Logger) *Controller {
	if len(config.AlertThresholds) == 0 {
		config.AlertThresholds = []float64{50, 80, 90, 95}
	}
	sort.Float64s(config.AlertThresholds)

	return &Controller{
		ledger:  ledger,
		calc:    calc,
		config:  config,
		logger:  logger.With(zap.String("component", "budget")),
		alerted: make(map[float64]bool),
	}
}

// Calculator 返回成本计算器
func (c *Controller) Calculator() *CostCalculator {
	return c.calc
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// CheckDaily 检查每日预算。超限且 Enforce 开启时返回 BUDGET_EXCEEDED。
func (c *Controller) CheckDaily(ctx context.Context) error {
	spent, err := c.ledger.TotalSince(ctx, startOfDay())
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to read daily spend").WithCause(err)
	}

	c.maybeAlert(spent)

	if c.config.Enforce && spent >= c.config.DailyLimit {
		return types.NewError(types.ErrBudgetExceeded, "daily budget exhausted").
			WithHTTPStatus(http.StatusTooManyRequests)
	}
	return nil
}

// CheckEstimated 在调用模型前检查预估成本是否会击穿预算。
// 预估花费越过告警阈值时同样触发告警。
func (c *Controller) CheckEstimated(ctx context.Context, projectID string, estimated float64) error {
	if estimated <= 0 {
		return nil
	}

	daily, err := c.ledger.TotalSince(ctx, startOfDay())
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to read daily spend").WithCause(err)
	}

	c.maybeAlert(daily + estimated)

	if c.config.Enforce && daily+estimated > c.config.DailyLimit {
		return types.NewError(types.ErrBudgetExceeded, "estimated cost would exceed daily budget").
			WithHTTPStatus(http.StatusTooManyRequests)
	}

	if projectID != "" {
		project, err := c.ledger.ProjectTotal(ctx, projectID)
		if err != nil {
			return types.NewError(types.ErrInternalError, "failed to read project spend").WithCause(err)
		}
		if c.config.Enforce && project+estimated > c.config.ProjectLimit {
			return types.NewError(types.ErrBudgetExceeded, "estimated cost would exceed project budget").
				WithHTTPStatus(http.StatusPaymentRequired)
		}
	}
	return nil
}

// CheckProject 检查单项目预算
func (c *Controller) CheckProject(ctx context.Context, projectID string) error {
	spent, err := c.ledger.ProjectTotal(ctx, projectID)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to read project spend").WithCause(err)
	}

	if c.config.Enforce && spent >= c.config.ProjectLimit {
		return types.NewError(types.ErrBudgetExceeded, "project budget exhausted").
			WithHTTPStatus(http.StatusPaymentRequired)
	}
	return nil
}

// Record 记录一次调用成本
func (c *Controller) Record(ctx context.Context, entry *CostEntry) error {
	if err := c.ledger.Record(ctx, entry); err != nil {
		return types.NewError(types.ErrInternalError, "failed to record cost").WithCause(err)
	}
	return nil
}

// IsThrottled 返回当前是否因预算限流
func (c *Controller) IsThrottled(ctx context.Context) bool {
	if !c.config.Enforce {
		return false
	}
	spent, err := c.ledger.TotalSince(ctx, startOfDay())
	if err != nil {
		// 账本不可用时保守放行，由 CheckDaily 在生成路径上再拦截
		c.logger.Warn("failed to read spend for throttle check", zap.Error(err))
		return false
	}
	return spent >= c.config.DailyLimit
}

// Snapshot 返回预算状态
func (c *Controller) Snapshot(ctx context.Context) (*Status, error) {
	day := startOfDay()

	total, err := c.ledger.TotalSince(ctx, time.Time{})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to read spend").WithCause(err)
	}
	daily, err := c.ledger.TotalSince(ctx, day)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to read daily spend").WithCause(err)
	}
	categories, err := c.ledger.CategoryTotalsSince(ctx, day)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to read category spend").WithCause(err)
	}

	pct := 0.0
	if c.config.DailyLimit > 0 {
		pct = daily / c.config.DailyLimit * 100
	}

	return &Status{
		TotalSpent:     total,
		TotalBudget:    c.config.DailyLimit,
		PercentageUsed: pct,
		Categories:     categories,
		IsThrottled:    c.config.Enforce && daily >= c.config.DailyLimit,
		Daily:          daily,
		Enforce:        c.config.Enforce,
	}, nil
}

// =============================================================================
// 🔔 告警
// =============================================================================

// maybeAlert 检查是否越过告警阈值，每个阈值每天只告警一次
func (c *Controller) maybeAlert(spent float64) {
	if c.config.DailyLimit <= 0 {
		return
	}
	pct := spent / c.config.DailyLimit * 100

	c.mu.Lock()
	defer c.mu.Unlock()

	day := startOfDay()
	if !c.alertedDay.Equal(day) {
		c.alertedDay = day
		c.alerted = make(map[float64]bool)
	}

	for _, threshold := range c.config.AlertThresholds {
		if pct >= threshold && !c.alerted[threshold] {
			c.alerted[threshold] = true
			c.logger.Warn("budget threshold crossed",
				zap.Float64("threshold_pct", threshold),
				zap.Float64("spent", spent),
				zap.Float64("daily_limit", c.config.DailyLimit),
			)
		}
	}
}

func startOfDay() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
