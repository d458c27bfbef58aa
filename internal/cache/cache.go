// Package cache implements the two-tier content cache.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss 表示缓存未命中
var ErrCacheMiss = errors.New("cache: key not found")

// =============================================================================
// 💾 多级缓存管理器
// =============================================================================
// L1: 进程内 TTL 缓存，容量受限，命中最快
// L2: Redis，跨进程共享，TTL 更长
// 读路径: L1 → L2，L2 命中时回填 L1
// 写路径: 同时写入 L1 和 L2
// =============================================================================

// Config 缓存配置
type Config struct {
	// L1 内存缓存 TTL
	L1TTL time.Duration `yaml:"l1_ttl" json:"l1_ttl"`
	// L1 最大条目数，超过时随机淘汰过期/最旧条目
	L1MaxEntries int `yaml:"l1_max_entries" json:"l1_max_entries"`
	// L2 Redis TTL
	L2TTL time.Duration `yaml:"l2_ttl" json:"l2_ttl"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		L1TTL:        time.Hour,
		L1MaxEntries: 10000,
		L2TTL:        24 * time.Hour,
		KeyPrefix:    "cf",
	}
}

// Stats 缓存统计
type Stats struct {
	L1Hits    uint64 `json:"l1_hits"`
	L1Misses  uint64 `json:"l1_misses"`
	L2Hits    uint64 `json:"l2_hits"`
	L2Misses  uint64 `json:"l2_misses"`
	Evictions uint64 `json:"evictions"`
	Errors    uint64 `json:"errors"`
}

type l1Entry struct {
	value     string
	expiresAt time.Time
}

// Manager 多级缓存管理器
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger

	mu sync.RWMutex
	l1 map[string]l1Entry

	l1Hits    atomic.Uint64
	l1Misses  atomic.Uint64
	l2Hits    atomic.Uint64
	l2Misses  atomic.Uint64
	evictions atomic.Uint64
	errors    atomic.Uint64

	closed atomic.Bool
}

// NewManager 创建多级缓存管理器
func NewManager(client *redis.Client, config Config, logger *zap.Logger) (*Manager, error) {
	if config.L1TTL <= 0 {
		config.L1TTL = time.Hour
	}
	if config.L2TTL <= 0 {
		config.L2TTL = 24 * time.Hour
	}
	if config.L1MaxEntries <= 0 {
		config.L1MaxEntries = 10000
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		l1:     make(map[string]l1Entry),
	}

	m.logger.Info("cache manager initialized",
		zap.Duration("l1_ttl", config.L1TTL),
		zap.Duration("l2_ttl", config.L2TTL),
		zap.Int("l1_max_entries", config.L1MaxEntries),
	)

	return m, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 按 L1 → L2 顺序查找，L2 命中时回填 L1
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	fullKey := m.key(key)

	// L1 查找
	m.mu.RLock()
	entry, ok := m.l1[fullKey]
	m.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		m.l1Hits.Add(1)
		return entry.value, nil
	}
	m.l1Misses.Add(1)

	if ok {
		// 条目已过期，惰性清理
		m.mu.Lock()
		delete(m.l1, fullKey)
		m.mu.Unlock()
		m.evictions.Add(1)
	}

	// L2 查找
	value, err := m.redis.Get(ctx, fullKey).Result()
	if err == redis.Nil {
		m.l2Misses.Add(1)
		return "", ErrCacheMiss
	}
	if err != nil {
		m.errors.Add(1)
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	m.l2Hits.Add(1)

	// L2 命中回填 L1
	m.setL1(fullKey, value)

	return value, nil
}

// Set 同时写入 L1 和 L2
func (m *Manager) Set(ctx context.Context, key, value string) error {
	fullKey := m.key(key)

	if err := m.redis.Set(ctx, fullKey, value, m.config.L2TTL).Err(); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("cache set failed: %w", err)
	}

	m.setL1(fullKey, value)
	return nil
}

// Delete 从两级缓存中删除
func (m *Manager) Delete(ctx context.Context, key string) error {
	fullKey := m.key(key)

	m.mu.Lock()
	delete(m.l1, fullKey)
	m.mu.Unlock()

	if err := m.redis.Del(ctx, fullKey).Err(); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// GetJSON 获取并反序列化 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	value, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return nil
}

// SetJSON 序列化并写入 JSON 值
func (m *Manager) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		m.errors.Add(1)
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	return m.Set(ctx, key, string(data))
}

// Stats 返回缓存统计快照
func (m *Manager) Stats() Stats {
	return Stats{
		L1Hits:    m.l1Hits.Load(),
		L1Misses:  m.l1Misses.Load(),
		L2Hits:    m.l2Hits.Load(),
		L2Misses:  m.l2Misses.Load(),
		Evictions: m.evictions.Load(),
		Errors:    m.errors.Load(),
	}
}

// Ping 检查 L2 可用性
func (m *Manager) Ping(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存管理器（不关闭共享的 redis 客户端）
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	m.l1 = make(map[string]l1Entry)
	m.mu.Unlock()
	m.logger.Info("cache manager closed")
	return nil
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

func (m *Manager) key(key string) string {
	if m.config.KeyPrefix == "" {
		return key
	}
	return m.config.KeyPrefix + ":" + key
}

// setL1 写入 L1，超出容量时先淘汰过期条目，再淘汰最早过期的条目
func (m *Manager) setL1(fullKey, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.l1) >= m.config.L1MaxEntries {
		m.evictLocked()
	}

	m.l1[fullKey] = l1Entry{
		value:     value,
		expiresAt: time.Now().Add(m.config.L1TTL),
	}
}

func (m *Manager) evictLocked() {
	now := time.Now()
	for k, e := range m.l1 {
		if now.After(e.expiresAt) {
			delete(m.l1, k)
			m.evictions.Add(1)
		}
	}
	if len(m.l1) < m.config.L1MaxEntries {
		return
	}

	// 仍然超限：淘汰最早过期的条目
	var oldestKey string
	var oldest time.Time
	for k, e := range m.l1 {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(m.l1, oldestKey)
		m.evictions.Add(1)
	}
}
