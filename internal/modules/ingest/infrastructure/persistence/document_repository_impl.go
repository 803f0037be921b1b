package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"OmniIngest/internal/modules/ingest/domain/document"
	"OmniIngest/internal/modules/ingest/domain/repository"

	"gorm.io/gorm"
)

type documentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

func (r *documentRepositoryImpl) FindByHash(ctx context.Context, hashHex string, includeSoftDeleted bool) (*document.DocumentRecord, error) {
	q := r.db.WithContext(ctx)
	if includeSoftDeleted {
		q = q.Unscoped()
	}
	var rec document.DocumentRecord
	err := q.Where("hash_hex = ?", strings.TrimSpace(hashHex)).Take(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) Create(ctx context.Context, rec *document.DocumentRecord) error {
	err := r.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return nil
	}
	if isDuplicateKeyErr(err) {
		return repository.ErrDuplicateHash
	}
	return err
}

func (r *documentRepositoryImpl) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return nil
	}
	// 物理删除：回滚路径要的是资源消失，不是逻辑删除
	return r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&document.DocumentRecord{}).Error
}

func (r *documentRepositoryImpl) GetByID(ctx context.Context, id int64) (*document.DocumentRecord, error) {
	var rec document.DocumentRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) UpdateStatus(ctx context.Context, id int64, status int8, errorMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMsg != "" {
		updates["error_msg"] = errorMsg
	}
	terminal := []int8{document.StatusCompleted, document.StatusFailed, document.StatusCompletedDegraded}
	return r.db.WithContext(ctx).Model(&document.DocumentRecord{}).
		Where("id = ? AND status NOT IN ?", id, terminal).
		Updates(updates).Error
}

func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "duplicate entry") {
		return true
	}
	if strings.Contains(s, "uniq_ingest_doc_hash") {
		return true
	}
	return false
}
