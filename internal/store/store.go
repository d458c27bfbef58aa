// Package store persists project documents in MongoDB.
// This package is internal and should not be imported by external projects.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 📄 项目文档库
// =============================================================================

// Config 文档库配置
type Config struct {
	// 连接 URI
	URI string `yaml:"uri" json:"uri"`
	// 数据库名
	Database string `yaml:"database" json:"database"`
	// 集合名
	Collection string `yaml:"collection" json:"collection"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// Store 项目文档库
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// New 连接 MongoDB 并创建文档库
func New(ctx context.Context, config Config, logger *zap.Logger) (*Store, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &Store{
		client: client,
		coll:   client.Database(config.Database).Collection(config.Collection),
		logger: logger.With(zap.String("component", "project_store")),
	}

	s.logger.Info("project store initialized",
		zap.String("database", config.Database),
		zap.String("collection", config.Collection),
	)
	return s, nil
}

// Database 返回底层数据库句柄，供 GridFS 等共享同一连接
func (s *Store) Database() *mongo.Database {
	return s.coll.Database()
}

// NewWithCollection 用已有集合创建文档库（测试用）
func NewWithCollection(coll *mongo.Collection, logger *zap.Logger) *Store {
	return &Store{
		coll:   coll,
		logger: logger.With(zap.String("component", "project_store")),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Create 插入新项目文档
func (s *Store) Create(ctx context.Context, p *types.Project) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = types.StatusCreated
	}

	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		return types.NewError(types.ErrStorageUnavailable, "failed to create project").
			WithCause(err).
			WithRetryable(true)
	}
	return nil
}

// Get 按 ID 读取项目文档
func (s *Store) Get(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NewError(types.ErrProjectNotFound, fmt.Sprintf("project %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageUnavailable, "failed to read project").
			WithCause(err).
			WithRetryable(true)
	}
	return &p, nil
}

// Replace 整体更新项目文档（阶段结果落盘）
func (s *Store) Replace(ctx context.Context, p *types.Project) error {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return types.NewError(types.ErrStorageUnavailable, "failed to update project").
			WithCause(err).
			WithRetryable(true)
	}
	if result.MatchedCount == 0 {
		return types.NewError(types.ErrProjectNotFound, fmt.Sprintf("project %s not found", p.ID))
	}
	return nil
}

// SetStatus 更新项目状态，非法迁移返回 INVALID_TRANSITION
func (s *Store) SetStatus(ctx context.Context, id string, to types.Status) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if !types.CanTransition(p.Status, to) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", p.Status, to))
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return types.NewError(types.ErrStorageUnavailable, "failed to update status").
			WithCause(err).
			WithRetryable(true)
	}

	s.logger.Debug("project status updated",
		zap.String("project_id", id),
		zap.String("from", string(p.Status)),
		zap.String("to", string(to)),
	)
	return nil
}

// List 按状态列出项目，status 为空时列出全部
func (s *Store) List(ctx context.Context, status types.Status, limit int64) ([]*types.Project, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	if limit <= 0 {
		limit = 50
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, types.NewError(types.ErrStorageUnavailable, "failed to list projects").
			WithCause(err).
			WithRetryable(true)
	}

	var projects []*types.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, types.NewError(types.ErrStorageUnavailable, "failed to decode projects").WithCause(err)
	}
	return projects, nil
}

// Ping 检查文档库可用性
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, nil)
}

// Close 断开 MongoDB 连接
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
