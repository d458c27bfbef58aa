// Package quota provides token-bucket rate limiting for outbound service calls.
// This package is internal and should not be imported by external projects.
package quota

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 🚦 配额管理器
// =============================================================================
// 每个 service:operation 组合一个令牌桶。
// 默认容量 100，按每秒 RefillRate 补充。
// =============================================================================

// Config 配额配置
type Config struct {
	// 桶容量
	Capacity int `yaml:"capacity" json:"capacity"`
	// 每秒补充速率
	RefillRate float64 `yaml:"refill_rate" json:"refill_rate"`
	// 空闲桶清理周期
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// DefaultConfig 返回默认配额配置
func DefaultConfig() Config {
	return Config{
		Capacity:        100,
		RefillRate:      10,
		CleanupInterval: 10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Manager 配额管理器
type Manager struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	stopCh chan struct{}
	once   sync.Once
}

// NewManager 创建配额管理器
func NewManager(config Config, logger *zap.Logger) *Manager {
	if config.Capacity <= 0 {
		config.Capacity = 100
	}
	if config.RefillRate <= 0 {
		config.RefillRate = 10
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}

	m := &Manager{
		config:  config,
		logger:  logger.With(zap.String("component", "quota")),
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Allow 非阻塞地尝试从 service:operation 的桶中取 n 个令牌
func (m *Manager) Allow(service, operation string, n int) bool {
	return m.bucket(service, operation).limiter.AllowN(time.Now(), n)
}

// Wait 阻塞直到取得 n 个令牌或 context 取消
func (m *Manager) Wait(ctx context.Context, service, operation string, n int) error {
	if err := m.bucket(service, operation).limiter.WaitN(ctx, n); err != nil {
		return types.NewError(types.ErrRateLimited, "quota wait aborted").
			WithCause(err).
			WithRetryable(true)
	}
	return nil
}

// Tokens 返回当前桶内可用令牌数（近似值，用于观测）
func (m *Manager) Tokens(service, operation string) float64 {
	return m.bucket(service, operation).limiter.Tokens()
}

// Close 停止后台清理
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stopCh) })
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

func (m *Manager) bucket(service, operation string) *bucket {
	key := service + ":" + operation

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(m.config.RefillRate), m.config.Capacity),
		}
		m.buckets[key] = b
		m.logger.Debug("bucket created",
			zap.String("key", key),
			zap.Int("capacity", m.config.Capacity),
			zap.Float64("refill_rate", m.config.RefillRate),
		)
	}
	b.lastSeen = time.Now()
	return b
}

// cleanupLoop 定期清理长时间未使用的桶
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * m.config.CleanupInterval)
			m.mu.Lock()
			for key, b := range m.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
