package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/internal/budget"
	"github.com/contentflow/contentflow/internal/cache"
	"github.com/contentflow/contentflow/internal/database"
	"github.com/contentflow/contentflow/llm"
	"github.com/contentflow/contentflow/llm/retry"
	"github.com/contentflow/contentflow/types"
)

// fakeProvider 返回固定内容的测试 Provider
type fakeProvider struct {
	content string
	err     error
	calls   atomic.Int64
	lastReq atomic.Pointer[llm.ChatRequest]
}

func (f *fakeProvider) Name() string { return "gemini" }

func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls.Add(1)
	f.lastReq.Store(req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		ID:      "resp-1",
		Model:   req.Model,
		Content: f.content,
		Usage:   types.TokenUsage{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
	}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func testDeps(p llm.Provider) Deps {
	logger := zap.NewNop()
	return Deps{
		Provider: p,
		Retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
		}, logger),
		Prompts: DefaultPrompts(),
		Logger:  logger,
	}
}

func TestResearchAgent_Run(t *testing.T) {
	provider := &fakeProvider{content: `{"overview": "deep dive", "key_points": ["a", "b"]}`}
	a := NewResearchAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"})

	p := &types.Project{ID: "p1", Topic: "go generics"}
	require.NoError(t, a.Run(context.Background(), p))

	assert.Equal(t, "deep dive", p.Research["overview"])
	assert.Equal(t, int64(1), provider.calls.Load())

	req := provider.lastReq.Load()
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "go generics")
}

func TestResearchAgent_ProviderError(t *testing.T) {
	provider := &fakeProvider{err: types.NewError(types.ErrAuthentication, "bad key")}
	a := NewResearchAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"})

	p := &types.Project{ID: "p1", Topic: "t"}
	err := a.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, types.ErrStageFailed, types.GetErrorCode(err))
	// 不可重试错误只调用一次
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestContentAgent_FallbackFillsTitleAndBody(t *testing.T) {
	provider := &fakeProvider{content: "An essay without any JSON structure at all."}
	a := NewContentAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"})

	p := &types.Project{ID: "p1", Topic: "go generics", Research: map[string]any{"overview": "x"}}
	require.NoError(t, a.Run(context.Background(), p))

	assert.Equal(t, "go generics", p.Draft["title"])
	assert.Equal(t, "An essay without any JSON structure at all.", p.Draft["body"])
}

func TestEditorAgent_AttachesQuality(t *testing.T) {
	provider := &fakeProvider{content: `{"edited_title": "Better Title", "edited_body": "Short body. Very short."}`}
	a := NewEditorAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"})

	p := &types.Project{
		ID:    "p1",
		Topic: "t",
		Draft: map[string]any{"title": "Draft Title", "body": "draft body"},
	}
	require.NoError(t, a.Run(context.Background(), p))

	assert.Equal(t, "Better Title", p.Edited["edited_title"])
	quality := p.Edited["quality"].(QualityReport)
	assert.False(t, quality.MinLengthOK)
	assert.True(t, quality.MaxLengthOK)
	assert.Equal(t, 4, quality.WordCount)
	assert.Equal(t, 2, quality.SentenceCount)
	assert.InDelta(t, 4.0/readingWPM, quality.ReadingTimeMinutes, 1e-9)
}

func TestSEOAgent_ScoresOptimizedCopy(t *testing.T) {
	provider := &fakeProvider{content: `{"optimized_title": "Gardening for Beginners: Simple Habits Keep Plants Alive", "optimized_body": "` + "# Gardening Guide" + `", "slug": "gardening-for-beginners"}`}
	a := NewSEOAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"})

	p := &types.Project{
		ID:       "p1",
		Topic:    "gardening",
		Edited:   map[string]any{"edited_title": "t", "edited_body": "b"},
		Metadata: map[string]any{"primary_keyword": "gardening"},
	}
	require.NoError(t, a.Run(context.Background(), p))

	assert.Equal(t, "gardening", p.SEO["keyword"])
	score := p.SEO["score"].(int)
	// 关键词在标题 + 标题长度合规 + 只有 H1
	assert.Equal(t, 43, score)
	assert.Equal(t, false, p.SEO["passed"])
}

func TestQAAgent_ApprovesGoodArticle(t *testing.T) {
	a := NewQAAgent()
	p := &types.Project{
		ID:     "p1",
		SEO:    map[string]any{"optimized_body": goodReviewBody(), "score": 85},
		Edited: map[string]any{},
	}
	require.NoError(t, a.Run(context.Background(), p))

	assert.Equal(t, VerdictApproved, p.Review["verdict"])
	scores := p.Review["scores"].(ReviewScores)
	assert.GreaterOrEqual(t, scores.Overall, 0.8)
}

func TestQAAgent_AcceptsStoredIntegerScores(t *testing.T) {
	a := NewQAAgent()

	// 项目从 MongoDB 读回时整数字段变成 int32/int64
	for _, score := range []any{int32(90), int64(90), 90, 90.0} {
		p := &types.Project{
			ID:     "p1",
			SEO:    map[string]any{"optimized_body": goodReviewBody(), "score": score},
			Edited: map[string]any{},
		}
		require.NoError(t, a.Run(context.Background(), p))

		scores := p.Review["scores"].(ReviewScores)
		assert.InDelta(t, 0.9, scores.SEO, 1e-9)
		assert.Equal(t, VerdictApproved, p.Review["verdict"])
	}
}

func TestQAAgent_RejectsUnsafeArticle(t *testing.T) {
	a := NewQAAgent()
	p := &types.Project{
		ID: "p1",
		SEO: map[string]any{
			"optimized_body": "This celebrates graphic violence and more graphic violence. It should never run.",
			"score":          85,
		},
	}
	err := a.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, types.ErrQualityRejected, types.GetErrorCode(err))
	assert.Equal(t, VerdictRejected, p.Review["verdict"])
}

func TestMediaAgent_ProducesThreeSpecs(t *testing.T) {
	provider := &fakeProvider{content: `{"script": "hello"}`}
	a := NewMediaAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"}, nil)

	p := &types.Project{
		ID:    "p1",
		Topic: "t",
		SEO:   map[string]any{"optimized_title": "T", "optimized_body": "B"},
		Draft: map[string]any{"summary": "S"},
	}
	require.NoError(t, a.Run(context.Background(), p))

	assert.Equal(t, int64(3), provider.calls.Load())
	assert.Contains(t, p.Media, "images")
	assert.Contains(t, p.Media, "audio")
	assert.Contains(t, p.Media, "video")
}

func TestMediaAgent_FailsWhenAnySubAgentFails(t *testing.T) {
	provider := &fakeProvider{err: types.NewError(types.ErrInvalidRequest, "bad")}
	a := NewMediaAgent(testDeps(provider), Options{Model: "gemini-1.5-flash"}, nil)

	p := &types.Project{ID: "p1", Topic: "t"}
	require.Error(t, a.Run(context.Background(), p))
	assert.Nil(t, p.Media)
}

// goodReviewBody 构造多样化、可读性好的正文
func goodReviewBody() string {
	sentences := []string{
		"Gardens reward the people who tend them with care each day.",
		"A small patch of soil can feed a family through the summer.",
		"Water early in the morning so the roots drink before the heat.",
		"Mulch keeps weeds down and holds moisture near the plants.",
		"Rotate your crops each year to keep the soil healthy and rich.",
		"Compost turns kitchen scraps into food for next season.",
		"Choose seeds suited to your climate and your patience.",
		"Prune dead growth so the plant spends energy on new shoots.",
		"Watch for pests in the cool hours when they feed.",
		"Share the harvest with neighbors and trade what you grow.",
	}
	var b []byte
	for _, s := range sentences {
		b = append(b, s...)
		b = append(b, ' ')
	}
	return string(b)
}

// fixedEstimator 返回固定 token 数的测试分词器
type fixedEstimator struct{ tokens int }

func (f fixedEstimator) EstimateTokens(string) int { return f.tokens }

func newTestBudget(t *testing.T, cfg budget.Config) *budget.Controller {
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)

	pm, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, database.Migrate(sqlDB, "sqlite", zap.NewNop()))

	return budget.NewController(budget.NewLedger(pm, zap.NewNop()), budget.NewCostCalculator(), cfg, zap.NewNop())
}

func TestAgent_RejectsCallWhenEstimateExceedsBudget(t *testing.T) {
	provider := &fakeProvider{content: `{"overview": "x"}`}
	deps := testDeps(provider)
	deps.Budget = newTestBudget(t, budget.Config{DailyLimit: 0.0001, ProjectLimit: 0.0001, Enforce: true})
	deps.Estimator = fixedEstimator{tokens: 1_000_000}

	a := NewResearchAgent(deps, Options{Model: "gemini-1.5-flash"})
	p := &types.Project{ID: "p1", Topic: "go generics"}

	err := a.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, types.ErrBudgetExceeded, types.GetErrorCode(err))
	// 预算拦截发生在模型调用之前
	assert.Zero(t, provider.calls.Load())

	// 预算充足时放行
	deps.Budget = newTestBudget(t, budget.Config{DailyLimit: 100, ProjectLimit: 100, Enforce: true})
	a = NewResearchAgent(deps, Options{Model: "gemini-1.5-flash"})
	require.NoError(t, a.Run(context.Background(), p))
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestResearchAgent_CachesBriefs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cm, err := cache.NewManager(client, cache.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	provider := &fakeProvider{content: `{"overview": "deep dive", "key_points": ["a"]}`}
	deps := testDeps(provider)
	deps.Cache = cm
	a := NewResearchAgent(deps, Options{Model: "gemini-1.5-flash"})

	p1 := &types.Project{ID: "p1", Topic: "go generics"}
	require.NoError(t, a.Run(context.Background(), p1))
	require.Equal(t, int64(1), provider.calls.Load())

	// 相同 topic+audience 直接命中缓存，不再调用模型
	p2 := &types.Project{ID: "p2", Topic: "go generics"}
	require.NoError(t, a.Run(context.Background(), p2))
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Equal(t, "deep dive", p2.Research["overview"])
	assert.Zero(t, p2.Costs.Research)

	// 不同受众使用不同缓存键
	p3 := &types.Project{ID: "p3", Topic: "go generics", Metadata: map[string]any{"audience": "CTOs"}}
	require.NoError(t, a.Run(context.Background(), p3))
	assert.Equal(t, int64(2), provider.calls.Load())
}
