package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"OmniIngest/internal/modules/ingest/domain/document"
	"OmniIngest/internal/modules/ingest/domain/repository"
	"OmniIngest/internal/modules/ingest/infrastructure/extraction"
	"OmniIngest/pkg/compensate"
	"OmniIngest/pkg/hashid"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type SubmitRequest struct {
	FileName string
	Content  []byte

	// IncludeSoftDeleted 去重时逻辑删除的记录是否也算已存在
	IncludeSoftDeleted bool

	// SchemaJSON 为空时使用服务配置的默认抽取 schema
	SchemaJSON string
}

type SubmitResult struct {
	Outcome    Outcome
	RecordID   int64
	ExistingID int64
	Degraded   bool
	Reason     string
	Retryable  bool
	Trail      compensate.AuditTrail
}

type IngestService interface {
	// Submit 处理一个文件：哈希 → 去重 → 上传 → 抽取 → 落库 → 索引。
	// 业务性失败（抽取失败、重复、持久化失败）通过 SubmitResult 返回；
	// error 只用于关键回滚失败（外部系统中留下了孤儿资源）和取消
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	GetDocument(ctx context.Context, id int64) (*document.DocumentRecord, error)
}

type ingestService struct {
	repo      repository.DocumentRepository
	store     repository.ObjectStore
	extractor repository.Extractor
	index     repository.SearchIndex
	cache     repository.DedupCache

	schemaJSON string
	logger     *zap.Logger
}

func NewIngestService(repo repository.DocumentRepository, store repository.ObjectStore, extractor repository.Extractor, index repository.SearchIndex, cache repository.DedupCache, schemaJSON string, logger *zap.Logger) IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ingestService{
		repo:       repo,
		store:      store,
		extractor:  extractor,
		index:      index,
		cache:      cache,
		schemaJSON: schemaJSON,
		logger:     logger,
	}
}

func (s *ingestService) GetDocument(ctx context.Context, id int64) (*document.DocumentRecord, error) {
	if id <= 0 {
		return nil, nil
	}
	return s.repo.GetByID(ctx, id)
}

func (s *ingestService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	start := time.Now()

	if len(req.Content) == 0 {
		return &SubmitResult{Outcome: OutcomeFailed, Reason: "EmptyContent"}, nil
	}
	schema := strings.TrimSpace(req.SchemaJSON)
	if schema == "" {
		schema = s.schemaJSON
	}

	identity, err := hashid.Compute(bytes.NewReader(req.Content))
	if err != nil {
		return &SubmitResult{Outcome: OutcomeFailed, Reason: "HashError: " + err.Error()}, nil
	}

	// 去重预检只是快路径；并发提交相同内容时靠 hash_hex 唯一索引兜底
	if existing, found := s.lookupExisting(ctx, identity.Hex, req.IncludeSoftDeleted); found {
		s.logger.Info("ingest duplicate short-circuit",
			zap.String("hash", identity.Hex),
			zap.Int64("existing_id", existing))
		return &SubmitResult{Outcome: OutcomeDuplicate, ExistingID: existing}, nil
	}

	tx := compensate.Begin(s.logger)

	res, err := s.runStages(ctx, tx, req, identity, schema)
	if res != nil {
		res.Trail = tx.Trail()
	}
	if err == nil && res.Outcome == OutcomeCompleted {
		if s.cache != nil {
			s.cache.Set(ctx, identity.Hex, res.RecordID)
		}
		s.logger.Info("ingest completed",
			zap.String("file_name", req.FileName),
			zap.String("hash", identity.Hex),
			zap.Int64("record_id", res.RecordID),
			zap.Bool("degraded", res.Degraded),
			zap.Int64("ms", time.Since(start).Milliseconds()))
	}
	return res, err
}

// runStages 在一个补偿事务作用域内顺序执行全部副作用阶段
func (s *ingestService) runStages(ctx context.Context, tx *compensate.Transaction, req SubmitRequest, identity hashid.Identity, schema string) (*SubmitResult, error) {
	// 阶段间的取消视作与任何失败相同：走关键回滚路径
	if err := ctx.Err(); err != nil {
		return s.abort(ctx, tx, err)
	}

	objectKey, err := s.store.Upload(ctx, req.FileName, bytes.NewReader(req.Content))
	if err != nil {
		res, rbErr := s.abort(ctx, tx, err)
		if rbErr != nil {
			return res, rbErr
		}
		return &SubmitResult{Outcome: OutcomeFailed, Reason: "ObjectStoreError: " + err.Error(), Retryable: true, Trail: tx.Trail()}, nil
	}
	tx.RegisterRollback(compensate.RollbackHandler{
		ResourceType: compensate.ResourceObjectStore,
		ResourceID:   objectKey,
		Description:  "delete uploaded object",
		Critical:     true,
		Action: func(ctx context.Context) error {
			return s.store.Delete(ctx, objectKey)
		},
	})

	if err := ctx.Err(); err != nil {
		return s.abort(ctx, tx, err)
	}

	payload, err := s.extractor.Extract(ctx, objectKey, schema)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return s.abort(ctx, tx, err)
		}
		reason, retryable := classifyExtractionFailure(err)
		res := &SubmitResult{Outcome: OutcomeFailed, Reason: reason, Retryable: retryable}
		if rbErr := s.rollback(ctx, tx, err); rbErr != nil {
			res.Trail = tx.Trail()
			return res, rbErr
		}
		res.Trail = tx.Trail()
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return s.abort(ctx, tx, err)
	}

	now := time.Now()
	rec := &document.DocumentRecord{
		FileName:      strings.TrimSpace(req.FileName),
		HashHex:       identity.Hex,
		HashBase64:    identity.Base64,
		ObjectKey:     objectKey,
		Status:        document.StatusProcessing,
		ExtractedJson: payload,
		ExtractedAt:   sql.NullTime{Time: now, Valid: true},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			// 并发提交撞上唯一约束：清理本单元的副作用，按重复处理
			if rbErr := s.rollback(ctx, tx, err); rbErr != nil {
				return &SubmitResult{Outcome: OutcomeFailed, Reason: "PersistenceError", Trail: tx.Trail()}, rbErr
			}
			if existing, found := s.lookupExisting(ctx, identity.Hex, req.IncludeSoftDeleted); found {
				return &SubmitResult{Outcome: OutcomeDuplicate, ExistingID: existing, Trail: tx.Trail()}, nil
			}
			return &SubmitResult{Outcome: OutcomeDuplicate, Trail: tx.Trail()}, nil
		}

		res := &SubmitResult{Outcome: OutcomeFailed, Reason: "PersistenceError", Retryable: true}
		if rbErr := s.rollback(ctx, tx, err); rbErr != nil {
			res.Trail = tx.Trail()
			return res, rbErr
		}
		res.Trail = tx.Trail()
		return res, nil
	}
	recordID := rec.Id
	tx.RegisterRollback(compensate.RollbackHandler{
		ResourceType: compensate.ResourcePersistence,
		ResourceID:   strconv.FormatInt(recordID, 10),
		Description:  "delete document record",
		Critical:     true,
		Action: func(ctx context.Context) error {
			return s.repo.Delete(ctx, recordID)
		},
	})

	if err := ctx.Err(); err != nil {
		return s.abort(ctx, tx, err)
	}

	indexID := strconv.FormatInt(recordID, 10)
	attrs := map[string]string{
		"file_name": rec.FileName,
		"hash_hex":  rec.HashHex,
	}
	degraded := false
	if err := s.index.Upsert(ctx, indexID, payload, attrs); err != nil {
		// 二级索引失败不回滚已落库的结果，只降级，留待后续对账
		degraded = true
		s.logger.Warn("search index upsert failed, completing degraded",
			zap.Int64("record_id", recordID),
			zap.Error(err))
		if uErr := s.repo.UpdateStatus(ctx, recordID, document.StatusCompletedDegraded, err.Error()); uErr != nil {
			s.logger.Warn("degraded status update failed", zap.Int64("record_id", recordID), zap.Error(uErr))
		}
	} else {
		tx.RegisterRollback(compensate.RollbackHandler{
			ResourceType: compensate.ResourceSecondaryIndex,
			ResourceID:   indexID,
			Description:  "remove document from search index",
			Critical:     false,
			Action: func(ctx context.Context) error {
				return s.index.Remove(ctx, indexID)
			},
		})
		if err := s.repo.UpdateStatus(ctx, recordID, document.StatusCompleted, ""); err != nil {
			res := &SubmitResult{Outcome: OutcomeFailed, Reason: "PersistenceError", Retryable: true}
			if rbErr := s.rollback(ctx, tx, err); rbErr != nil {
				res.Trail = tx.Trail()
				return res, rbErr
			}
			res.Trail = tx.Trail()
			return res, nil
		}
	}

	tx.Commit()
	return &SubmitResult{Outcome: OutcomeCompleted, RecordID: recordID, Degraded: degraded}, nil
}

// lookupExisting 先查旁路缓存再查数据库；缓存命中也会回库核实
func (s *ingestService) lookupExisting(ctx context.Context, hashHex string, includeSoftDeleted bool) (int64, bool) {
	if s.cache != nil {
		if id, ok := s.cache.Get(ctx, hashHex); ok {
			rec, err := s.repo.GetByID(ctx, id)
			if err == nil && rec != nil {
				return rec.Id, true
			}
			s.cache.Invalidate(ctx, hashHex)
		}
	}

	rec, err := s.repo.FindByHash(ctx, hashHex, includeSoftDeleted)
	if err != nil {
		s.logger.Warn("dedup lookup failed, proceeding as new content", zap.String("hash", hashHex), zap.Error(err))
		return 0, false
	}
	if rec == nil {
		return 0, false
	}
	if s.cache != nil {
		s.cache.Set(ctx, hashHex, rec.Id)
	}
	return rec.Id, true
}

// rollback 即使原始失败来自取消也要执行清理，因此脱离父 ctx 的取消信号
func (s *ingestService) rollback(ctx context.Context, tx *compensate.Transaction, original error) error {
	err := tx.Rollback(context.WithoutCancel(ctx), original)
	var rf *compensate.RollbackFailureError
	if errors.As(err, &rf) {
		s.logger.Error("critical rollback failure, orphaned external resources",
			zap.Int("failed_handlers", len(rf.Failed)),
			zap.Error(rf.Original))
		return rf
	}
	return nil
}

// abort 取消或不可恢复错误：回滚后把原始错误透传给调用方
func (s *ingestService) abort(ctx context.Context, tx *compensate.Transaction, original error) (*SubmitResult, error) {
	res := &SubmitResult{Outcome: OutcomeFailed, Reason: original.Error()}
	if rbErr := s.rollback(ctx, tx, original); rbErr != nil {
		res.Trail = tx.Trail()
		return res, rbErr
	}
	res.Trail = tx.Trail()
	return res, original
}

func classifyExtractionFailure(err error) (string, bool) {
	var failed *extraction.FailedError
	if errors.As(err, &failed) {
		return "ExtractionFailed: " + failed.Error(), true
	}
	var rejected *extraction.RejectedError
	if errors.As(err, &rejected) {
		return "ExtractionRejected: " + rejected.Error(), false
	}
	return "ExtractionError: " + err.Error(), false
}
