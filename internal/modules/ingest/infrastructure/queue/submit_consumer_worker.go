package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"OmniIngest/internal/modules/ingest/application/service"
	"OmniIngest/internal/modules/ingest/infrastructure/mq"
	"OmniIngest/pkg/compensate"

	"go.uber.org/zap"
)

// SubmitEvent 异步提交事件的 Kafka 消息体
type SubmitEvent struct {
	FileName           string `json:"file_name"`
	ContentBase64      string `json:"content_base64"`
	IncludeSoftDeleted bool   `json:"include_soft_deleted"`
	SchemaJSON         string `json:"schema_json,omitempty"`
}

// SubmitWorker 从提交队列消费事件并驱动编排服务。
// 并发由信号量限制在 workerCount 以内，超出的分区声明会阻塞等待空位
type SubmitWorker struct {
	svc      service.IngestService
	consumer mq.Consumer
	sem      chan struct{}
	logger   *zap.Logger
}

func NewSubmitWorker(svc service.IngestService, consumer mq.Consumer, workerCount int, logger *zap.Logger) *SubmitWorker {
	if workerCount <= 0 {
		workerCount = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmitWorker{
		svc:      svc,
		consumer: consumer,
		sem:      make(chan struct{}, workerCount),
		logger:   logger,
	}
}

// Run 阻塞消费直到 ctx 取消
func (w *SubmitWorker) Run(ctx context.Context) error {
	return w.consumer.Run(ctx, w)
}

func (w *SubmitWorker) Close() error {
	return w.consumer.Close()
}

// Handle 实现 mq.Handler。返回 error 会让消息留在队列里重投，
// 所以只有值得重试的失败才返回 error，其余都吞掉并标记消费完成
func (w *SubmitWorker) Handle(ctx context.Context, msg mq.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.sem }()

	var event SubmitEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 消息体损坏没有重投的意义
		w.logger.Warn("submit event unmarshal failed, discarding",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return nil
	}
	content, err := base64.StdEncoding.DecodeString(event.ContentBase64)
	if err != nil {
		w.logger.Warn("submit event content decode failed, discarding",
			zap.String("file_name", event.FileName),
			zap.Error(err))
		return nil
	}

	res, err := w.svc.Submit(ctx, service.SubmitRequest{
		FileName:           event.FileName,
		Content:            content,
		IncludeSoftDeleted: event.IncludeSoftDeleted,
		SchemaJSON:         event.SchemaJSON,
	})
	if err != nil {
		var rf *compensate.RollbackFailureError
		if errors.As(err, &rf) {
			// 孤儿资源已记录在审计轨迹里，重投也无法自动修复
			w.logger.Error("async submit left orphaned resources",
				zap.String("file_name", event.FileName),
				zap.Int("failed_handlers", len(rf.Failed)),
				zap.Error(err))
			return nil
		}
		return err
	}

	switch res.Outcome {
	case service.OutcomeCompleted:
		w.logger.Info("async submit completed",
			zap.String("file_name", event.FileName),
			zap.Int64("record_id", res.RecordID),
			zap.Bool("degraded", res.Degraded))
	case service.OutcomeDuplicate:
		w.logger.Info("async submit duplicate",
			zap.String("file_name", event.FileName),
			zap.Int64("existing_id", res.ExistingID))
	case service.OutcomeFailed:
		if res.Retryable {
			return fmt.Errorf("async submit failed, will redeliver: %s", res.Reason)
		}
		w.logger.Warn("async submit failed permanently",
			zap.String("file_name", event.FileName),
			zap.String("reason", res.Reason))
	}
	return nil
}
