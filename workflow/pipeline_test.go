package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/agent"
	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 🧪 流水线测试
// =============================================================================

// memStore 内存文档库，迁移校验与真实实现一致
type memStore struct {
	mu       sync.Mutex
	projects map[string]*types.Project
}

func newMemStore() *memStore {
	return &memStore{projects: make(map[string]*types.Project)}
}

func (m *memStore) put(p *types.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
}

func (m *memStore) Get(ctx context.Context, id string) (*types.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, types.NewError(types.ErrProjectNotFound, "not found")
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) Replace(ctx context.Context, p *types.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return types.NewError(types.ErrProjectNotFound, "not found")
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memStore) SetStatus(ctx context.Context, id string, to types.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return types.NewError(types.ErrProjectNotFound, "not found")
	}
	if !types.CanTransition(p.Status, to) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", p.Status, to))
	}
	p.Status = to
	return nil
}

func (m *memStore) status(id string) types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[id].Status
}

// stubAgent 记录调用并执行自定义逻辑
type stubAgent struct {
	name  string
	fn    func(p *types.Project) error
	calls *callLog
}

type callLog struct {
	mu    sync.Mutex
	order []string
}

func (c *callLog) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, name)
}

func (c *callLog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Run(ctx context.Context, p *types.Project) error {
	s.calls.add(s.name)
	if s.fn != nil {
		return s.fn(p)
	}
	return nil
}

// allowAllGate 不限流的预算闸
type allowAllGate struct{}

func (allowAllGate) CheckDaily(ctx context.Context) error                      { return nil }
func (allowAllGate) CheckProject(ctx context.Context, projectID string) error { return nil }

// denyGate 始终拒绝
type denyGate struct{}

func (denyGate) CheckDaily(ctx context.Context) error {
	return types.NewError(types.ErrBudgetExceeded, "daily budget exhausted")
}
func (denyGate) CheckProject(ctx context.Context, projectID string) error { return nil }

// testAgents 构造一组通过全部质量线的 stub agents
func testAgents(log *callLog, seoPoints int, verdict string) Agents {
	return Agents{
		Research: &stubAgent{name: "research", calls: log, fn: func(p *types.Project) error {
			p.Research = map[string]any{"overview": "x"}
			p.AddCost("research", 0.001)
			return nil
		}},
		Content: &stubAgent{name: "content", calls: log, fn: func(p *types.Project) error {
			p.Draft = map[string]any{"title": "T", "body": "B", "summary": "S"}
			p.AddCost("generation", 0.002)
			return nil
		}},
		Editor: &stubAgent{name: "editor", calls: log, fn: func(p *types.Project) error {
			p.Edited = map[string]any{"edited_title": "T", "edited_body": "B"}
			return nil
		}},
		SEO: &stubAgent{name: "seo", calls: log, fn: func(p *types.Project) error {
			p.SEO = map[string]any{"optimized_title": "T", "optimized_body": "B", "score": seoPoints}
			return nil
		}},
		QA: &stubAgent{name: "qa", calls: log, fn: func(p *types.Project) error {
			p.Review = map[string]any{"verdict": verdict}
			return nil
		}},
		Media: &stubAgent{name: "media", calls: log, fn: func(p *types.Project) error {
			p.Media = map[string]any{"images": map[string]any{}}
			return nil
		}},
		Publisher: &stubAgent{name: "publisher", calls: log, fn: func(p *types.Project) error {
			p.Published = map[string]any{"wordpress": map[string]any{"delivered": true}}
			return nil
		}},
	}
}

func newTestProject(store *memStore) *types.Project {
	p := &types.Project{ID: "p1", Topic: "t", Status: types.StatusCreated}
	store.put(p)
	return p
}

func TestPipeline_RunAllStages(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}

	pl := NewPipeline(testAgents(log, 90, agent.VerdictApproved), store, allowAllGate{}, nil, zap.NewNop())
	proj, err := pl.Run(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, proj.Status)
	assert.Equal(t, []string{"research", "content", "editor", "seo", "qa", "media", "publisher"}, log.names())
	assert.Equal(t, types.StatusCompleted, store.status("p1"))
	assert.InDelta(t, 0.003, proj.Costs.Total, 1e-9)
}

func TestPipeline_SkipsTailWhenNotApproved(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}

	pl := NewPipeline(testAgents(log, 90, agent.VerdictRevision), store, allowAllGate{}, nil, zap.NewNop())
	proj, err := pl.Run(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, proj.Status)
	assert.NotContains(t, log.names(), "media")
	assert.NotContains(t, log.names(), "publisher")
}

func TestPipeline_SkipsPublishBelowAutoPublishScore(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}

	pl := NewPipeline(testAgents(log, 75, agent.VerdictApproved), store, allowAllGate{}, nil, zap.NewNop())
	proj, err := pl.Run(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, proj.Status)
	assert.Contains(t, log.names(), "media")
	assert.NotContains(t, log.names(), "publisher")
}

func TestPipeline_StageFailureMarksProjectFailed(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}

	agents := testAgents(log, 90, agent.VerdictApproved)
	agents.Editor = &stubAgent{name: "editor", calls: log, fn: func(p *types.Project) error {
		return types.NewError(types.ErrStageFailed, "editing blew up")
	}}

	pl := NewPipeline(agents, store, allowAllGate{}, nil, zap.NewNop())
	proj, err := pl.Run(context.Background(), "p1")
	require.Error(t, err)

	assert.Equal(t, types.StatusFailed, proj.Status)
	assert.Equal(t, types.StatusFailed, store.status("p1"))
	require.NotEmpty(t, proj.Errors)
	assert.Equal(t, "editing", proj.Errors[0].Stage)
	assert.NotContains(t, log.names(), "seo")
}

func TestPipeline_BudgetGateBlocksFirstStage(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}

	pl := NewPipeline(testAgents(log, 90, agent.VerdictApproved), store, denyGate{}, nil, zap.NewNop())
	_, err := pl.Run(context.Background(), "p1")
	require.Error(t, err)

	assert.Equal(t, types.ErrBudgetExceeded, types.GetErrorCode(err))
	assert.Empty(t, log.names())
	assert.Equal(t, types.StatusFailed, store.status("p1"))
}

func TestPipeline_UnknownProject(t *testing.T) {
	pl := NewPipeline(Agents{}, newMemStore(), nil, nil, zap.NewNop())
	_, err := pl.Run(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrProjectNotFound, types.GetErrorCode(err))
}
