package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 🧪 文档库集成测试
// =============================================================================
// 需要运行中的 MongoDB，通过 TEST_MONGO_URI 指定，未设置时跳过。
// =============================================================================

func setupTestStore(t *testing.T) *Store {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, Config{
		URI:        uri,
		Database:   "contentflow_test",
		Collection: "projects_" + uuid.NewString()[:8],
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := &types.Project{
		ID:       uuid.NewString(),
		Topic:    "go concurrency patterns",
		Metadata: map[string]any{"primary_keyword": "goroutines"},
	}
	require.NoError(t, s.Create(ctx, p))
	assert.Equal(t, types.StatusCreated, p.Status)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Topic, got.Topic)
	assert.Equal(t, "goroutines", got.PrimaryKeyword())
}

func TestStore_GetNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrProjectNotFound, types.GetErrorCode(err))
}

func TestStore_SetStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := &types.Project{ID: uuid.NewString(), Topic: "t"}
	require.NoError(t, s.Create(ctx, p))

	require.NoError(t, s.SetStatus(ctx, p.ID, types.StatusResearching))

	// 非法迁移
	err := s.SetStatus(ctx, p.ID, types.StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestStore_ReplaceAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := &types.Project{ID: uuid.NewString(), Topic: "t"}
	require.NoError(t, s.Create(ctx, p))

	p.Research = map[string]any{"overview": "found things"}
	p.AddCost("research", 0.002)
	require.NoError(t, s.Replace(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "found things", got.Research["overview"])
	assert.InDelta(t, 0.002, got.Costs.Total, 1e-9)

	list, err := s.List(ctx, types.StatusCreated, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}
