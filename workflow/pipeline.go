// Package workflow orchestrates the content generation pipeline across the
// agents: sequentially for synchronous requests, or stage by stage over the
// event bus for asynchronous ones.
package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/agent"
	"github.com/contentflow/contentflow/internal/metrics"
	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 🎭 流水线编排
// =============================================================================
// 阶段顺序：research -> content -> editor -> seo -> qa -> media -> publish。
// qa 不通过时跳过 media/publish 直接完成；
// seo 分数不足自动发布线时跳过 publish。
// 每个阶段执行前检查每日与项目预算，执行后落盘。
// =============================================================================

// ProjectStore is the persistence surface the pipeline needs.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*types.Project, error)
	Replace(ctx context.Context, p *types.Project) error
	SetStatus(ctx context.Context, id string, to types.Status) error
}

// BudgetGate short-circuits stage execution when spend limits are reached.
type BudgetGate interface {
	CheckDaily(ctx context.Context) error
	CheckProject(ctx context.Context, projectID string) error
}

// Agents 各阶段 agent
type Agents struct {
	Research  agent.Agent
	Content   agent.Agent
	Editor    agent.Agent
	SEO       agent.Agent
	QA        agent.Agent
	Media     agent.Agent
	Publisher agent.Agent
}

// stageOrder 阶段执行顺序
var stageOrder = []types.Status{
	types.StatusResearching,
	types.StatusGenerating,
	types.StatusEditing,
	types.StatusSEOOptimizing,
	types.StatusReviewing,
	types.StatusMedia,
	types.StatusPublishing,
}

// stageName 状态对应的成本类别名
var stageName = map[types.Status]string{
	types.StatusResearching:   "research",
	types.StatusGenerating:    "generation",
	types.StatusEditing:       "editing",
	types.StatusSEOOptimizing: "seo_optimization",
	types.StatusReviewing:     "review",
	types.StatusMedia:         "media",
	types.StatusPublishing:    "publishing",
}

// Pipeline 流水线
type Pipeline struct {
	agents  Agents
	store   ProjectStore
	budget  BudgetGate
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewPipeline 创建流水线。budget 与 metrics 可为 nil。
func NewPipeline(agents Agents, store ProjectStore, budget BudgetGate, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		agents:  agents,
		store:   store,
		budget:  budget,
		metrics: collector,
		logger:  logger.With(zap.String("component", "pipeline")),
	}
}

// Run executes the full pipeline synchronously and returns the final project
// state. On stage failure the project is marked failed and the error returned.
func (pl *Pipeline) Run(ctx context.Context, projectID string) (*types.Project, error) {
	proj, err := pl.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	for _, status := range stageOrder {
		cont, reason := pl.shouldRun(proj, status)
		if !cont {
			pl.logger.Info("stage skipped, finishing early",
				zap.String("project_id", proj.ID),
				zap.String("stage", stageName[status]),
				zap.String("reason", reason),
			)
			break
		}

		if err := pl.RunStage(ctx, proj, status); err != nil {
			pl.Fail(ctx, proj, stageName[status], err)
			return proj, err
		}
	}

	if err := pl.Complete(ctx, proj); err != nil {
		return proj, err
	}
	return proj, nil
}

// RunStage executes one stage: budget checks, status transition, agent run,
// persistence. The project is mutated in place.
func (pl *Pipeline) RunStage(ctx context.Context, proj *types.Project, status types.Status) error {
	name := stageName[status]

	if pl.budget != nil {
		if err := pl.budget.CheckDaily(ctx); err != nil {
			return err
		}
		if err := pl.budget.CheckProject(ctx, proj.ID); err != nil {
			return err
		}
	}

	// 重投的消息会再次执行当前阶段，此时无需迁移状态
	if proj.Status != status {
		from := proj.Status
		if err := pl.store.SetStatus(ctx, proj.ID, status); err != nil {
			return err
		}
		proj.Status = status
		pl.recordTransition(from, status)
	}

	pl.logger.Info("stage started",
		zap.String("project_id", proj.ID),
		zap.String("stage", name),
	)

	start := time.Now()
	err := pl.agentFor(status).Run(ctx, proj)
	duration := time.Since(start)

	if err != nil {
		pl.recordStage(name, "error", duration)
		return err
	}
	pl.recordStage(name, "success", duration)

	if err := pl.store.Replace(ctx, proj); err != nil {
		return err
	}

	pl.logger.Info("stage finished",
		zap.String("project_id", proj.ID),
		zap.String("stage", name),
		zap.Duration("duration", duration),
		zap.Float64("total_cost", proj.Costs.Total),
	)
	return nil
}

// Complete moves the project to its terminal completed state.
func (pl *Pipeline) Complete(ctx context.Context, proj *types.Project) error {
	if proj.Status == types.StatusCompleted || proj.Status == types.StatusFailed {
		return nil
	}
	from := proj.Status
	if err := pl.store.SetStatus(ctx, proj.ID, types.StatusCompleted); err != nil {
		return err
	}
	proj.Status = types.StatusCompleted
	pl.recordTransition(from, types.StatusCompleted)

	pl.logger.Info("project completed",
		zap.String("project_id", proj.ID),
		zap.Float64("total_cost", proj.Costs.Total),
	)
	return nil
}

// Fail marks the project failed and records the stage error. Best effort:
// persistence errors here are logged, the original failure wins.
func (pl *Pipeline) Fail(ctx context.Context, proj *types.Project, stage string, cause error) {
	proj.AddError(stage, cause)
	from := proj.Status

	if err := pl.store.SetStatus(ctx, proj.ID, types.StatusFailed); err != nil {
		pl.logger.Error("failed to mark project failed",
			zap.String("project_id", proj.ID),
			zap.Error(err),
		)
	} else {
		proj.Status = types.StatusFailed
		pl.recordTransition(from, types.StatusFailed)
	}

	if err := pl.store.Replace(ctx, proj); err != nil {
		pl.logger.Error("failed to persist failure state",
			zap.String("project_id", proj.ID),
			zap.Error(err),
		)
	}

	pl.logger.Warn("project failed",
		zap.String("project_id", proj.ID),
		zap.String("stage", stage),
		zap.Error(cause),
	)
}

// shouldRun applies the gating rules for the optional tail stages.
func (pl *Pipeline) shouldRun(proj *types.Project, status types.Status) (bool, string) {
	switch status {
	case types.StatusMedia:
		if v := reviewVerdict(proj); v != agent.VerdictApproved {
			return false, "review verdict is " + v
		}
	case types.StatusPublishing:
		if v := reviewVerdict(proj); v != agent.VerdictApproved {
			return false, "review verdict is " + v
		}
		if score := seoScore(proj); score < agent.SEOAutoPublishScore {
			return false, "seo score below auto-publish line"
		}
	}
	return true, ""
}

func (pl *Pipeline) agentFor(status types.Status) agent.Agent {
	switch status {
	case types.StatusResearching:
		return pl.agents.Research
	case types.StatusGenerating:
		return pl.agents.Content
	case types.StatusEditing:
		return pl.agents.Editor
	case types.StatusSEOOptimizing:
		return pl.agents.SEO
	case types.StatusReviewing:
		return pl.agents.QA
	case types.StatusMedia:
		return pl.agents.Media
	default:
		return pl.agents.Publisher
	}
}

func (pl *Pipeline) recordStage(name, status string, d time.Duration) {
	if pl.metrics != nil {
		pl.metrics.RecordStageExecution(name, status, d)
	}
}

func (pl *Pipeline) recordTransition(from, to types.Status) {
	if pl.metrics != nil {
		pl.metrics.RecordProjectTransition(string(from), string(to))
	}
}

// reviewVerdict 读取质检结论，缺失时视为未审
func reviewVerdict(proj *types.Project) string {
	if proj.Review == nil {
		return "missing"
	}
	if v, ok := proj.Review["verdict"].(string); ok {
		return v
	}
	return "missing"
}

// seoScore 读取 SEO 分数，兼容文档库往返后的数值类型
func seoScore(proj *types.Project) int {
	if proj.SEO == nil {
		return 0
	}
	switch v := proj.SEO["score"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
