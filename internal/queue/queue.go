// Package queue implements the pipeline event bus on Redis Streams.
// This package is internal and should not be imported by external projects.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 📨 事件总线
// =============================================================================
// 每个 topic 对应一个 Redis Stream，消费者组内竞争消费。
// 处理失败的消息带着递增的 attempts 重新入队；
// 超过 MaxDeliveries 次后进入死信流，不再投递。
// =============================================================================

// Config 事件队列配置
type Config struct {
	// Stream 键前缀
	StreamPrefix string `yaml:"stream_prefix" json:"stream_prefix"`
	// 消费者组名
	ConsumerGroup string `yaml:"consumer_group" json:"consumer_group"`
	// 单条消息最大投递次数，超过进入死信
	MaxDeliveries int `yaml:"max_deliveries" json:"max_deliveries"`
	// 拉取批大小
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// 拉取阻塞时长
	BlockTimeout time.Duration `yaml:"block_timeout" json:"block_timeout"`
	// pending 消息闲置多久后可被其他消费者接管
	ClaimIdle time.Duration `yaml:"claim_idle" json:"claim_idle"`
}

// DefaultConfig 返回默认队列配置
func DefaultConfig() Config {
	return Config{
		StreamPrefix:  "cf:events",
		ConsumerGroup: "pipeline",
		MaxDeliveries: 3,
		BatchSize:     10,
		BlockTimeout:  5 * time.Second,
		ClaimIdle:     30 * time.Second,
	}
}

// Handler 消息处理函数。返回错误时消息将按策略重投。
type Handler func(ctx context.Context, msg *types.Message) error

// Bus 基于 Redis Streams 的事件总线
type Bus struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewBus 创建事件总线
func NewBus(client *redis.Client, config Config, logger *zap.Logger) (*Bus, error) {
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 3
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = 5 * time.Second
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "pipeline"
	}
	if config.ClaimIdle <= 0 {
		config.ClaimIdle = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Bus{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "event_bus")),
		ctx:    runCtx,
		cancel: runCancel,
	}, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Publish 发布消息到 topic 对应的 stream
func (b *Bus) Publish(ctx context.Context, msg *types.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode message").WithCause(err)
	}

	err = b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(msg.Topic),
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		return types.NewError(types.ErrQueueUnavailable, "failed to publish message").
			WithCause(err).
			WithRetryable(true)
	}

	b.logger.Debug("message published",
		zap.String("topic", msg.Topic),
		zap.String("project_id", msg.ProjectID),
		zap.Int("attempts", msg.Attempts),
	)
	return nil
}

// Subscribe 为 topic 启动一个消费者协程。
// 返回的错误只反映订阅建立阶段的失败，消费错误通过重投/死信处理。
func (b *Bus) Subscribe(ctx context.Context, topic, consumer string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("event bus is closed")
	}

	if err := b.ensureGroup(ctx, topic); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.consumeLoop(b.ctx, topic, consumer, h)

	b.logger.Info("subscribed",
		zap.String("topic", topic),
		zap.String("consumer", consumer),
		zap.String("group", b.config.ConsumerGroup),
	)
	return nil
}

// DeadLetters 返回死信流中最近的消息
func (b *Bus) DeadLetters(ctx context.Context, limit int64) ([]*types.Message, error) {
	entries, err := b.redis.XRevRangeN(ctx, b.stream(types.TopicDeadLetter), "+", "-", limit).Result()
	if err != nil {
		return nil, types.NewError(types.ErrQueueUnavailable, "failed to read dead letters").WithCause(err)
	}

	msgs := make([]*types.Message, 0, len(entries))
	for _, e := range entries {
		if msg, ok := decodeEntry(e); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// Ping 检查队列可用性
func (b *Bus) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}

// Close 停止所有消费者并等待退出
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// =============================================================================
// 🔧 消费循环
// =============================================================================

func (b *Bus) consumeLoop(ctx context.Context, topic, consumer string, h Handler) {
	defer b.wg.Done()

	// 连接类错误使用指数退避重连，避免在 Redis 故障时空转
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := b.consumeBatch(ctx, topic, consumer, h)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := bo.NextBackOff()
			b.logger.Warn("consume failed, backing off",
				zap.String("topic", topic),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		if n > 0 {
			bo.Reset()
		}
	}
}

// consumeBatch 先接管超时 pending 消息，再拉取新消息，返回处理条数
func (b *Bus) consumeBatch(ctx context.Context, topic, consumer string, h Handler) (int, error) {
	processed, err := b.claimStale(ctx, topic, consumer, h)
	if err != nil {
		return processed, err
	}

	streams, err := b.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.config.ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{b.stream(topic), ">"},
		Count:    int64(b.config.BatchSize),
		Block:    b.config.BlockTimeout,
	}).Result()
	if err == redis.Nil {
		return processed, nil
	}
	if err != nil {
		return processed, err
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			b.handleEntry(ctx, topic, entry, h)
			processed++
		}
	}
	return processed, nil
}

// claimStale 接管组内闲置超过 ClaimIdle 的 pending 消息。
// 消费者崩溃后未 ack 的消息由此重新投递。
func (b *Bus) claimStale(ctx context.Context, topic, consumer string, h Handler) (int, error) {
	entries, _, err := b.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream(topic),
		Group:    b.config.ConsumerGroup,
		Consumer: consumer,
		MinIdle:  b.config.ClaimIdle,
		Start:    "0-0",
		Count:    int64(b.config.BatchSize),
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		b.handleEntry(ctx, topic, entry, h)
	}
	return len(entries), nil
}

// handleEntry 处理一条消息。只有消息的归宿确定后才 ack：
// 处理成功、重投成功或写入死信成功。全部失败时留在 pending，
// 等待 claimStale 再次接管。
func (b *Bus) handleEntry(ctx context.Context, topic string, entry redis.XMessage, h Handler) {
	msg, ok := decodeEntry(entry)
	if !ok {
		b.logger.Error("malformed message dropped",
			zap.String("topic", topic),
			zap.String("entry_id", entry.ID),
		)
		b.ack(ctx, topic, entry.ID)
		return
	}

	msg.Attempts++
	if err := h(ctx, msg); err != nil {
		b.logger.Warn("handler failed",
			zap.String("topic", topic),
			zap.String("project_id", msg.ProjectID),
			zap.Int("attempts", msg.Attempts),
			zap.Error(err),
		)
		msg.Error = err.Error()

		if msg.Attempts >= b.config.MaxDeliveries {
			if b.toDeadLetter(ctx, msg) {
				b.ack(ctx, topic, entry.ID)
			}
			return
		}

		// 重新入队等待下一次投递
		if pubErr := b.Publish(ctx, msg); pubErr != nil {
			b.logger.Error("requeue failed, routing to dead letter",
				zap.String("topic", topic),
				zap.Error(pubErr),
			)
			if b.toDeadLetter(ctx, msg) {
				b.ack(ctx, topic, entry.ID)
			}
			return
		}
		b.ack(ctx, topic, entry.ID)
		return
	}

	b.ack(ctx, topic, entry.ID)
	b.logger.Debug("message processed",
		zap.String("topic", topic),
		zap.String("project_id", msg.ProjectID),
	)
}

func (b *Bus) ack(ctx context.Context, topic, entryID string) {
	if err := b.redis.XAck(ctx, b.stream(topic), b.config.ConsumerGroup, entryID).Err(); err != nil {
		b.logger.Error("ack failed",
			zap.String("topic", topic),
			zap.String("entry_id", entryID),
			zap.Error(err),
		)
	}
}

func (b *Bus) toDeadLetter(ctx context.Context, msg *types.Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to encode dead letter", zap.Error(err))
		return false
	}
	err = b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(types.TopicDeadLetter),
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		b.logger.Error("failed to write dead letter",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return false
	}
	b.logger.Warn("message routed to dead letter",
		zap.String("topic", msg.Topic),
		zap.String("project_id", msg.ProjectID),
		zap.Int("attempts", msg.Attempts),
		zap.String("error", msg.Error),
	)
	return true
}

func (b *Bus) ensureGroup(ctx context.Context, topic string) error {
	err := b.redis.XGroupCreateMkStream(ctx, b.stream(topic), b.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return types.NewError(types.ErrQueueUnavailable, "failed to create consumer group").WithCause(err)
	}
	return nil
}

func (b *Bus) stream(topic string) string {
	if b.config.StreamPrefix == "" {
		return topic
	}
	return b.config.StreamPrefix + ":" + topic
}

func decodeEntry(entry redis.XMessage) (*types.Message, bool) {
	raw, ok := entry.Values["payload"].(string)
	if !ok {
		return nil, false
	}
	var msg types.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	return &msg, true
}
