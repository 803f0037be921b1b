package repository

import (
	"context"

	"OmniIngest/internal/modules/ingest/domain/document"
)

// ErrDuplicateHash 唯一索引 uniq_ingest_doc_hash 冲突。
// 去重预检只是快路径优化，这个约束才是正确性保障
type duplicateHashError struct{}

func (duplicateHashError) Error() string { return "document with this content hash already exists" }

var ErrDuplicateHash error = duplicateHashError{}

type DocumentRepository interface {
	// FindByHash 按内容哈希查找记录；includeSoftDeleted 由调用方显式指定，
	// 决定逻辑删除的记录是否算作已存在
	FindByHash(ctx context.Context, hashHex string, includeSoftDeleted bool) (*document.DocumentRecord, error)

	// Create 插入记录并回填 Id；哈希冲突时返回 ErrDuplicateHash
	Create(ctx context.Context, rec *document.DocumentRecord) error

	// Delete 物理删除，仅用于回滚路径
	Delete(ctx context.Context, id int64) error

	GetByID(ctx context.Context, id int64) (*document.DocumentRecord, error)

	// UpdateStatus 单调推进状态；处于终态的记录不会被改写
	UpdateStatus(ctx context.Context, id int64, status int8, errorMsg string) error
}
