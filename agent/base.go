// Package agent implements the content pipeline agents: research, writing,
// editing, SEO optimization, quality review, media production and publishing.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/internal/budget"
	"github.com/contentflow/contentflow/internal/cache"
	"github.com/contentflow/contentflow/internal/metrics"
	"github.com/contentflow/contentflow/internal/quota"
	"github.com/contentflow/contentflow/llm"
	"github.com/contentflow/contentflow/llm/retry"
	"github.com/contentflow/contentflow/types"
)

// Agent is a single pipeline stage. Run mutates the project in place:
// it stores the stage result and accumulates cost. Persistence is the
// caller's responsibility.
type Agent interface {
	// Name 返回 agent 名称
	Name() string
	// Run 执行本阶段
	Run(ctx context.Context, p *types.Project) error
}

// TokenEstimator counts the tokens a prompt will consume before the
// provider is called.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// Deps bundles the shared collaborators every LLM-backed agent needs.
// Budget, Quota, Cache, Metrics and Estimator may be nil, in which case
// the concern is skipped.
type Deps struct {
	Provider  llm.Provider
	Retryer   retry.Retryer
	Budget    *budget.Controller
	Quota     *quota.Manager
	Cache     *cache.Manager
	Metrics   *metrics.Collector
	Estimator TokenEstimator
	Prompts   PromptSet
	Logger    *zap.Logger
}

// Options are per-agent model parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// BaseAgent 封装共享的模型调用路径：配额等待、重试、计费、指标。
type BaseAgent struct {
	name    string
	deps    Deps
	opts    Options
	logger  *zap.Logger
	prompts PromptTemplate
}

// newBase 创建基础 agent
func newBase(name string, deps Deps, opts Options) *BaseAgent {
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &BaseAgent{
		name:    name,
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger.With(zap.String("agent", name)),
		prompts: deps.Prompts.Get(name),
	}
}

// complete renders the agent's prompt, calls the provider with retries and
// returns the parsed result plus the cost of the call. The cost is recorded
// in the ledger here; the caller only attaches it to the project.
func (b *BaseAgent) complete(ctx context.Context, projectID, category string, vars map[string]string) (map[string]any, float64, error) {
	if b.deps.Quota != nil {
		if err := b.deps.Quota.Wait(ctx, b.deps.Provider.Name(), "chat", 1); err != nil {
			return nil, 0, err
		}
	}

	userPrompt := b.prompts.Render(vars)

	if err := b.checkEstimatedCost(ctx, projectID, userPrompt); err != nil {
		return nil, 0, err
	}

	req := &llm.ChatRequest{
		Model: b.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: b.prompts.SystemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: b.opts.Temperature,
		MaxTokens:   b.opts.MaxTokens,
	}

	start := time.Now()
	result, err := b.deps.Retryer.DoWithResult(ctx, func() (any, error) {
		return b.deps.Provider.Chat(ctx, req)
	})
	duration := time.Since(start)

	if err != nil {
		b.recordMetrics("error", duration, 0, 0, 0)
		return nil, 0, types.NewError(types.ErrStageFailed, "model call failed").
			WithCause(err).
			WithStage(category)
	}

	resp := result.(*llm.ChatResponse)
	cost := b.calculateCost(resp)
	b.recordMetrics("success", duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)
	b.recordCost(ctx, projectID, category, resp, cost)

	doc, structured := ParseJSON(resp.Content)
	if !structured {
		b.logger.Warn("model returned unstructured output, using fallback document",
			zap.String("project_id", projectID),
		)
	}

	b.logger.Debug("stage call complete",
		zap.String("project_id", projectID),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Float64("cost", cost),
		zap.Duration("duration", duration),
	)
	return doc, cost, nil
}

// checkEstimatedCost 在调用模型前用分词器预估本次调用成本，
// 预算会被击穿时直接拒绝，避免白白消耗配额。
func (b *BaseAgent) checkEstimatedCost(ctx context.Context, projectID, userPrompt string) error {
	if b.deps.Budget == nil || b.deps.Estimator == nil {
		return nil
	}

	tokens := b.deps.Estimator.EstimateTokens(b.prompts.SystemPrompt) +
		b.deps.Estimator.EstimateTokens(userPrompt)
	estimated := b.deps.Budget.Calculator().Calculate(
		b.deps.Provider.Name(), b.opts.Model, tokens, b.opts.MaxTokens,
	)

	if err := b.deps.Budget.CheckEstimated(ctx, projectID, estimated); err != nil {
		b.logger.Warn("estimated cost rejected by budget",
			zap.String("project_id", projectID),
			zap.Int("estimated_tokens", tokens),
			zap.Float64("estimated_cost", estimated),
		)
		return err
	}
	return nil
}

func (b *BaseAgent) calculateCost(resp *llm.ChatResponse) float64 {
	if b.deps.Budget == nil {
		return 0
	}
	return b.deps.Budget.Calculator().Calculate(
		b.deps.Provider.Name(), b.opts.Model,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
	)
}

func (b *BaseAgent) recordCost(ctx context.Context, projectID, category string, resp *llm.ChatResponse, cost float64) {
	if b.deps.Budget == nil {
		return
	}
	entry := &budget.CostEntry{
		ProjectID:        projectID,
		Category:         category,
		Provider:         b.deps.Provider.Name(),
		Model:            b.opts.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Cost:             cost,
	}
	if err := b.deps.Budget.Record(ctx, entry); err != nil {
		// 计费失败不阻断流水线，但必须可见
		b.logger.Error("failed to record cost", zap.Error(err))
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.RecordSpend(category, cost)
	}
}

func (b *BaseAgent) recordMetrics(status string, duration time.Duration, promptTokens, completionTokens int, cost float64) {
	if b.deps.Metrics == nil {
		return
	}
	b.deps.Metrics.RecordLLMRequest(b.deps.Provider.Name(), b.opts.Model, status, duration, promptTokens, completionTokens, cost)
}

// compactJSON marshals a value for prompt interpolation.
func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// metaString reads a string from project metadata with a default.
func metaString(p *types.Project, key, fallback string) string {
	if p.Metadata == nil {
		return fallback
	}
	if v, ok := p.Metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
