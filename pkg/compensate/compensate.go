// Package compensate 为单个工作单元内的多资源写操作提供补偿事务：
// 对象存储、数据库、向量索引之间没有共享的 ACID 事务，
// 每个副作用成功后登记一个回滚动作，失败时按登记的逆序（LIFO）清理。
package compensate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ResourceType string

const (
	ResourceObjectStore    ResourceType = "object_store"
	ResourcePersistence    ResourceType = "persistence"
	ResourceSecondaryIndex ResourceType = "secondary_index"
	ResourceCustom         ResourceType = "custom"
)

// RollbackAction 清理一个已创建的外部资源
type RollbackAction func(ctx context.Context) error

// RollbackHandler 一条已登记的回滚动作及其执行结果
type RollbackHandler struct {
	ResourceType ResourceType
	ResourceID   string
	Action       RollbackAction
	Description  string
	Critical     bool

	Executed  bool
	Succeeded bool
	Err       error
}

type CompensationStatus string

const (
	CompensationNotNeeded CompensationStatus = "not_needed"
	CompensationSuccess   CompensationStatus = "success"
	CompensationFailed    CompensationStatus = "failed"
)

// AuditTrail 事务生命周期记录，无论成功失败都可供调用方读取
type AuditTrail struct {
	StartedAt          time.Time
	FinishedAt         time.Time
	Status             string // success / failed，进行中为空
	CompensationNeeded bool
	CompensationStatus CompensationStatus
	OriginalErr        error
}

// RollbackFailureError 关键资源回滚失败。外部系统中已经留下孤儿资源，
// 需要人工介入，调用方必须显式处理而不能当作普通业务失败
type RollbackFailureError struct {
	Original error
	Failed   []*RollbackHandler
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback failed for %d critical resource(s) after: %v", len(e.Failed), e.Original)
}

func (e *RollbackFailureError) Unwrap() error { return e.Original }

// Transaction 单个工作单元的补偿事务。非并发安全：
// 一个事务实例只属于处理该单元的那一个 goroutine
type Transaction struct {
	logger   *zap.Logger
	handlers []*RollbackHandler
	trail    AuditTrail
	finished bool
}

func Begin(logger *zap.Logger) *Transaction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transaction{
		logger: logger,
		trail:  AuditTrail{StartedAt: time.Now(), CompensationStatus: CompensationNotNeeded},
	}
}

// RegisterRollback 在某个副作用成功之后立即调用，登记对应的清理动作
func (t *Transaction) RegisterRollback(h RollbackHandler) {
	if t.finished || h.Action == nil {
		return
	}
	copied := h
	t.handlers = append(t.handlers, &copied)
}

// Commit 所有阶段成功后调用；丢弃全部回滚动作，不执行它们
func (t *Transaction) Commit() {
	if t.finished {
		return
	}
	t.finished = true
	t.handlers = nil
	t.trail.Status = "success"
	t.trail.FinishedAt = time.Now()
	t.trail.CompensationStatus = CompensationNotNeeded
}

// Rollback 按登记逆序执行全部回滚动作。单个动作失败会被记录但不会阻止
// 更早登记的动作执行。全部执行完后：有关键动作失败则返回
// *RollbackFailureError 并链上原始错误；只有非关键动作失败则原样返回
// original，仅在审计记录里标记补偿失败。
func (t *Transaction) Rollback(ctx context.Context, original error) error {
	if t.finished {
		return original
	}
	t.finished = true
	t.trail.Status = "failed"
	t.trail.OriginalErr = original
	t.trail.CompensationNeeded = len(t.handlers) > 0

	if len(t.handlers) == 0 {
		t.trail.CompensationStatus = CompensationNotNeeded
		t.trail.FinishedAt = time.Now()
		return original
	}

	var failedCritical []*RollbackHandler
	anyFailed := false

	for i := len(t.handlers) - 1; i >= 0; i-- {
		h := t.handlers[i]
		h.Executed = true
		err := runAction(ctx, h.Action)
		if err == nil {
			h.Succeeded = true
			t.logger.Info("rollback handler succeeded",
				zap.String("resource_type", string(h.ResourceType)),
				zap.String("resource_id", h.ResourceID),
				zap.String("description", h.Description))
			continue
		}

		h.Succeeded = false
		h.Err = err
		anyFailed = true
		if h.Critical {
			failedCritical = append(failedCritical, h)
		}
		t.logger.Error("rollback handler failed",
			zap.String("resource_type", string(h.ResourceType)),
			zap.String("resource_id", h.ResourceID),
			zap.String("description", h.Description),
			zap.Bool("critical", h.Critical),
			zap.Error(err))
	}

	if anyFailed {
		t.trail.CompensationStatus = CompensationFailed
	} else {
		t.trail.CompensationStatus = CompensationSuccess
	}
	t.trail.FinishedAt = time.Now()

	if len(failedCritical) > 0 {
		return &RollbackFailureError{Original: original, Failed: failedCritical}
	}
	return original
}

// Trail 返回当前审计记录的快照
func (t *Transaction) Trail() AuditTrail { return t.trail }

// Handlers 返回已登记（或已执行）的回滚动作，供审计与测试检查
func (t *Transaction) Handlers() []*RollbackHandler { return t.handlers }

func runAction(ctx context.Context, action RollbackAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollback action panicked: %v", r)
		}
	}()
	return action(ctx)
}
