package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 📂 项目查询接口
// =============================================================================

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ProjectsHandler 项目查询处理器
type ProjectsHandler struct {
	store  ProjectStore
	logger *zap.Logger
}

// NewProjectsHandler 创建项目查询处理器
func NewProjectsHandler(store ProjectStore, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "projects")),
	}
}

// HandleGet 处理 GET /projects/{id}
func (h *ProjectsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "project id is required", h.logger)
		return
	}

	proj, err := h.store.Get(r.Context(), id)
	if err != nil {
		WriteFromError(w, err, h.logger)
		return
	}
	WriteSuccess(w, proj)
}

// HandleList 处理 GET /projects?status=&limit=
func (h *ProjectsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))

	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	projects, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		WriteFromError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}
