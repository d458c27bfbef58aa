package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 🧪 生成接口测试
// =============================================================================

// fakeStore 内存项目库
type fakeStore struct {
	mu        sync.Mutex
	projects  map[string]*types.Project
	createErr error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{projects: make(map[string]*types.Project)}
}

func (f *fakeStore) Create(ctx context.Context, p *types.Project) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, types.NewError(types.ErrProjectNotFound, "project not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) List(ctx context.Context, status types.Status, limit int64) ([]*types.Project, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Project
	for _, p := range f.projects {
		if status != "" && p.Status != status {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) put(p *types.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.projects[p.ID] = &cp
}

type fakeRunner struct {
	fn func(projectID string) (*types.Project, error)
}

func (f *fakeRunner) Run(ctx context.Context, projectID string) (*types.Project, error) {
	return f.fn(projectID)
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, projectID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, projectID)
	return nil
}

type stubThrottle bool

func (s stubThrottle) IsThrottled(ctx context.Context) bool { return bool(s) }

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandleGenerate_Accepted(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	h := NewGenerateHandler(store, nil, enq, stubThrottle(false), zap.NewNop())

	req := jsonRequest(http.MethodPost, "/generate", `{
		"topic": "container gardening",
		"primary_keyword": "gardening",
		"word_count": 1200,
		"platforms": ["wordpress", "medium"]
	}`)
	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	id := data["project_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, string(types.StatusCreated), data["status"])
	assert.Equal(t, []string{id}, enq.ids)

	proj, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "container gardening", proj.Topic)
	assert.Equal(t, "gardening", proj.Metadata["primary_keyword"])
	assert.Equal(t, "1200", proj.Metadata["word_count"])
	assert.Equal(t, "wordpress,medium", proj.Metadata["platforms"])
}

func TestHandleGenerate_MissingTopic(t *testing.T) {
	h := NewGenerateHandler(newFakeStore(), nil, &fakeEnqueuer{}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, jsonRequest(http.MethodPost, "/generate", `{"topic": "  "}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestHandleGenerate_UnknownFieldRejected(t *testing.T) {
	h := NewGenerateHandler(newFakeStore(), nil, &fakeEnqueuer{}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, jsonRequest(http.MethodPost, "/generate", `{"topic": "x", "bogus": 1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerate_RequiresJSONContentType(t *testing.T) {
	h := NewGenerateHandler(newFakeStore(), nil, &fakeEnqueuer{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"topic": "x"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerate_Throttled(t *testing.T) {
	store := newFakeStore()
	h := NewGenerateHandler(store, nil, &fakeEnqueuer{}, stubThrottle(true), zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, jsonRequest(http.MethodPost, "/generate", `{"topic": "x"}`))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(types.ErrBudgetExceeded), resp.Error.Code)
	assert.Empty(t, store.projects)
}

func TestHandleGenerate_EnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: types.NewError(types.ErrQueueUnavailable, "stream down").WithRetryable(true)}
	h := NewGenerateHandler(newFakeStore(), nil, enq, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, jsonRequest(http.MethodPost, "/generate", `{"topic": "x"}`))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(types.ErrQueueUnavailable), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}

func TestHandleGenerateSync_ReturnsFinalProject(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{fn: func(projectID string) (*types.Project, error) {
		p, _ := store.Get(context.Background(), projectID)
		p.Status = types.StatusCompleted
		return p, nil
	}}
	h := NewGenerateHandler(store, runner, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleGenerateSync(rec, jsonRequest(http.MethodPost, "/generate/sync", `{"topic": "container gardening"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, string(types.StatusCompleted), data["status"])
	assert.Equal(t, "container gardening", data["topic"])
}

func TestHandleGenerateSync_PipelineFailure(t *testing.T) {
	runner := &fakeRunner{fn: func(projectID string) (*types.Project, error) {
		return nil, types.NewError(types.ErrQualityRejected, "safety gate failed").WithStage("review")
	}}
	h := NewGenerateHandler(newFakeStore(), runner, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleGenerateSync(rec, jsonRequest(http.MethodPost, "/generate/sync", `{"topic": "x"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(types.ErrQualityRejected), resp.Error.Code)
}
