package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/agent"
	"github.com/contentflow/contentflow/internal/queue"
	"github.com/contentflow/contentflow/types"
)

func newTestBus(t *testing.T) *queue.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := queue.NewBus(client, queue.Config{
		StreamPrefix:  "cf:test",
		ConsumerGroup: "pipeline",
		MaxDeliveries: 3,
		BatchSize:     10,
		BlockTimeout:  50 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestEventPipeline_RunsToCompletion(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}
	bus := newTestBus(t)

	pl := NewPipeline(testAgents(log, 90, agent.VerdictApproved), store, allowAllGate{}, nil, zap.NewNop())
	ep := NewEventPipeline(pl, bus, "worker-1", zap.NewNop())

	ctx := context.Background()
	require.NoError(t, ep.Start(ctx))
	require.NoError(t, ep.Enqueue(ctx, "p1"))

	require.Eventually(t, func() bool {
		return store.status("p1") == types.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"research", "content", "editor", "seo", "qa", "media", "publisher"}, log.names())
}

func TestEventPipeline_GatesOffTailStages(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}
	bus := newTestBus(t)

	pl := NewPipeline(testAgents(log, 90, agent.VerdictHumanReview), store, allowAllGate{}, nil, zap.NewNop())
	ep := NewEventPipeline(pl, bus, "worker-1", zap.NewNop())

	ctx := context.Background()
	require.NoError(t, ep.Start(ctx))
	require.NoError(t, ep.Enqueue(ctx, "p1"))

	require.Eventually(t, func() bool {
		return store.status("p1") == types.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	assert.NotContains(t, log.names(), "media")
	assert.NotContains(t, log.names(), "publisher")
}

func TestEventPipeline_NonRetryableFailureFailsProject(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}
	bus := newTestBus(t)

	agents := testAgents(log, 90, agent.VerdictApproved)
	agents.Content = &stubAgent{name: "content", calls: log, fn: func(p *types.Project) error {
		return types.NewError(types.ErrQualityRejected, "unusable draft")
	}}

	pl := NewPipeline(agents, store, allowAllGate{}, nil, zap.NewNop())
	ep := NewEventPipeline(pl, bus, "worker-1", zap.NewNop())

	ctx := context.Background()
	require.NoError(t, ep.Start(ctx))
	require.NoError(t, ep.Enqueue(ctx, "p1"))

	require.Eventually(t, func() bool {
		return store.status("p1") == types.StatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	proj, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.NotEmpty(t, proj.Errors)
	assert.Equal(t, "generation", proj.Errors[0].Stage)
	assert.NotContains(t, log.names(), "editor")
}

func TestEventPipeline_RetryableFailureEndsInDeadLetter(t *testing.T) {
	store := newMemStore()
	newTestProject(store)
	log := &callLog{}
	bus := newTestBus(t)

	agents := testAgents(log, 90, agent.VerdictApproved)
	agents.Research = &stubAgent{name: "research", calls: log, fn: func(p *types.Project) error {
		return types.NewError(types.ErrModelOverloaded, "upstream busy").WithRetryable(true)
	}}

	pl := NewPipeline(agents, store, allowAllGate{}, nil, zap.NewNop())
	ep := NewEventPipeline(pl, bus, "worker-1", zap.NewNop())

	ctx := context.Background()
	require.NoError(t, ep.Start(ctx))
	require.NoError(t, ep.Enqueue(ctx, "p1"))

	require.Eventually(t, func() bool {
		dead, err := bus.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1
	}, 10*time.Second, 20*time.Millisecond)

	dead, err := bus.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, types.TopicProjectCreated, dead[0].Topic)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "p1", dead[0].ProjectID)
}
