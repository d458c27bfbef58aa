package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查接口
// =============================================================================

// HealthCheck 单个依赖的健康检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult 单项检查结果
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	mu        sync.RWMutex
	checks    []HealthCheck
	logger    *zap.Logger
	startTime time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		logger:    logger.With(zap.String("handler", "health")),
		startTime: time.Now(),
	}
}

// RegisterCheck 注册依赖检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealthz 处理 GET /healthz（存活探针，不查依赖）
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealth 处理 GET /health（全量依赖检查）
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results, healthy := h.runChecks(ctx)

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	WriteJSON(w, status, map[string]any{
		"status": overall,
		"uptime": time.Since(h.startTime).String(),
		"checks": results,
	})
}

// HandleReady 处理 GET /ready（就绪探针，依赖全部可用才返回 200）
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, healthy := h.runChecks(ctx)
	if !healthy {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleVersion 返回 GET /version 处理函数
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// runChecks 并发执行全部依赖检查
func (h *HealthHandler) runChecks(ctx context.Context) (map[string]CheckResult, bool) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	healthy := true

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			result := CheckResult{Status: "up", Latency: time.Since(start).String()}
			if err != nil {
				result.Status = "down"
				result.Error = err.Error()
			}

			mu.Lock()
			results[c.Name()] = result
			if err != nil {
				healthy = false
			}
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	return results, healthy
}

// =============================================================================
// 🔌 依赖检查实现
// =============================================================================

// PingCheck 用 ping 函数检查一个依赖
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建基于 ping 的健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// Name implements HealthCheck.
func (c *PingCheck) Name() string { return c.name }

// Check implements HealthCheck.
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
