package vectordb

import (
	"context"

	"OmniIngest/internal/modules/ingest/domain/repository"
)

// NoopIndex Milvus 未配置时的占位实现，所有操作直接成功。
// 用它时文档不会真正进索引，只保证摄取流程可以正常完成
type NoopIndex struct{}

func NewNoopIndex() *NoopIndex { return &NoopIndex{} }

func (NoopIndex) Upsert(ctx context.Context, recordID string, payload string, attrs map[string]string) error {
	return nil
}

func (NoopIndex) Remove(ctx context.Context, recordID string) error { return nil }

var _ repository.SearchIndex = NoopIndex{}
