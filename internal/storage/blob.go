// Package storage stores generated media assets in MongoDB GridFS.
// This package is internal and should not be imported by external projects.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 🗂️ 媒体 Blob 存储
// =============================================================================

// BlobInfo 已存储对象的元数据
type BlobInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ProjectID   string `json:"project_id"`
}

// BlobStore GridFS 封装
type BlobStore struct {
	bucket *mongo.GridFSBucket
	logger *zap.Logger
}

// New 创建 Blob 存储
func New(db *mongo.Database, bucketName string, logger *zap.Logger) *BlobStore {
	if bucketName == "" {
		bucketName = "media"
	}
	return &BlobStore{
		bucket: db.GridFSBucket(options.GridFSBucket().SetName(bucketName)),
		logger: logger.With(zap.String("component", "blob_store")),
	}
}

// Upload 写入对象，返回对象 ID
func (b *BlobStore) Upload(ctx context.Context, projectID, name, contentType string, r io.Reader) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.M{
		"project_id":   projectID,
		"content_type": contentType,
	})

	id, err := b.bucket.UploadFromStream(ctx, name, r, opts)
	if err != nil {
		return "", types.NewError(types.ErrStorageUnavailable, "failed to upload blob").
			WithCause(err).
			WithRetryable(true)
	}

	b.logger.Debug("blob uploaded",
		zap.String("project_id", projectID),
		zap.String("name", name),
		zap.String("id", id.Hex()),
	)
	return id.Hex(), nil
}

// Download 读取对象内容
func (b *BlobStore) Download(ctx context.Context, id string) ([]byte, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid blob id: %s", id))
	}

	var buf bytes.Buffer
	if _, err := b.bucket.DownloadToStream(ctx, oid, &buf); err != nil {
		return nil, types.NewError(types.ErrStorageUnavailable, "failed to download blob").
			WithCause(err).
			WithRetryable(true)
	}
	return buf.Bytes(), nil
}

// Delete 删除对象
func (b *BlobStore) Delete(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid blob id: %s", id))
	}

	if err := b.bucket.Delete(ctx, oid); err != nil {
		return types.NewError(types.ErrStorageUnavailable, "failed to delete blob").
			WithCause(err).
			WithRetryable(true)
	}
	return nil
}

// ListByProject 列出某项目的全部对象
func (b *BlobStore) ListByProject(ctx context.Context, projectID string) ([]BlobInfo, error) {
	cursor, err := b.bucket.Find(ctx, bson.M{"metadata.project_id": projectID})
	if err != nil {
		return nil, types.NewError(types.ErrStorageUnavailable, "failed to list blobs").
			WithCause(err).
			WithRetryable(true)
	}
	defer cursor.Close(ctx)

	var infos []BlobInfo
	for cursor.Next(ctx) {
		var file struct {
			ID       bson.ObjectID `bson:"_id"`
			Name     string        `bson:"filename"`
			Length   int64         `bson:"length"`
			Metadata struct {
				ProjectID   string `bson:"project_id"`
				ContentType string `bson:"content_type"`
			} `bson:"metadata"`
		}
		if err := cursor.Decode(&file); err != nil {
			return nil, types.NewError(types.ErrStorageUnavailable, "failed to decode blob metadata").WithCause(err)
		}
		infos = append(infos, BlobInfo{
			ID:          file.ID.Hex(),
			Name:        file.Name,
			ContentType: file.Metadata.ContentType,
			Size:        file.Length,
			ProjectID:   file.Metadata.ProjectID,
		})
	}
	return infos, cursor.Err()
}
