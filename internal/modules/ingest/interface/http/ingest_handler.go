package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"OmniIngest/internal/modules/ingest/application/dto/request"
	"OmniIngest/internal/modules/ingest/application/dto/respond"
	"OmniIngest/internal/modules/ingest/application/service"
	"OmniIngest/internal/modules/ingest/infrastructure/mq"
	"OmniIngest/internal/modules/ingest/infrastructure/queue"
	"OmniIngest/pkg/back"
	"OmniIngest/pkg/compensate"
	"OmniIngest/pkg/hashid"
	"OmniIngest/pkg/xerr"
	"OmniIngest/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUploadBytes 单次提交内容上限
const maxUploadBytes = 32 << 20

// IngestHandler 文件提交与查询 HTTP Handler
type IngestHandler struct {
	svc         service.IngestService
	publisher   mq.Publisher
	submitTopic string
}

func NewIngestHandler(svc service.IngestService, publisher mq.Publisher, submitTopic string) *IngestHandler {
	return &IngestHandler{svc: svc, publisher: publisher, submitTopic: submitTopic}
}

// Submit 同步提交一个文件并等待处理结果
//
// 路由: POST /ingest/submitFile
// 请求体: multipart/form-data，file 字段为文件内容，
// include_soft_deleted / schema_json 为可选表单字段
func (h *IngestHandler) Submit(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if fileHeader.Size > maxUploadBytes {
		back.Error(c, xerr.BadRequest, "文件过大")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		zlog.Error("open uploaded file failed", zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		zlog.Error("read uploaded file failed", zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}
	if len(content) > maxUploadBytes {
		back.Error(c, xerr.BadRequest, "文件过大")
		return
	}

	includeSoftDeleted := c.PostForm("include_soft_deleted") == "true"
	res, err := h.svc.Submit(c.Request.Context(), service.SubmitRequest{
		FileName:           fileHeader.Filename,
		Content:            content,
		IncludeSoftDeleted: includeSoftDeleted,
		SchemaJSON:         c.PostForm("schema_json"),
	})
	if err != nil {
		var rf *compensate.RollbackFailureError
		if errors.As(err, &rf) {
			zlog.Error("submit left orphaned resources",
				zap.String("file_name", fileHeader.Filename),
				zap.Int("failed_handlers", len(rf.Failed)),
				zap.Error(err))
			back.Error(c, xerr.InternalServerError, "处理失败且清理未完成，请联系工作人员")
			return
		}
		zlog.Error("submit aborted", zap.String("file_name", fileHeader.Filename), zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}

	back.Success(c, &respond.SubmitRespond{
		Outcome:    string(res.Outcome),
		RecordID:   res.RecordID,
		ExistingID: res.ExistingID,
		Degraded:   res.Degraded,
		Reason:     res.Reason,
		Retryable:  res.Retryable,
	})
}

// SubmitAsync 把提交事件投递到 Kafka，由消费端 worker 处理
//
// 路由: POST /ingest/submitAsync
// 请求体: SubmitAsyncRequest
func (h *IngestHandler) SubmitAsync(c *gin.Context) {
	var req request.SubmitAsyncRequest
	if err := c.BindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if h.publisher == nil {
		back.Error(c, xerr.InternalServerError, "异步提交未启用")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if len(content) > maxUploadBytes {
		back.Error(c, xerr.BadRequest, "文件过大")
		return
	}

	event := queue.SubmitEvent{
		FileName:           req.FileName,
		ContentBase64:      req.ContentBase64,
		IncludeSoftDeleted: req.IncludeSoftDeleted,
		SchemaJSON:         req.SchemaJSON,
	}
	value, err := json.Marshal(event)
	if err != nil {
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}
	// 以解码后内容的哈希作为分区键，同一内容的重复提交落在同一分区顺序消费；
	// 返回给调用方的 hash_hex 与 worker 落库的 hash_hex 一致
	id := hashid.ComputeBytes(content)
	if err := h.publisher.Publish(c.Request.Context(), mq.Message{
		Topic: h.submitTopic,
		Key:   []byte(id.Hex),
		Value: value,
	}); err != nil {
		zlog.Error("publish submit event failed", zap.String("file_name", req.FileName), zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}

	back.Success(c, &respond.SubmitAsyncRespond{HashHex: id.Hex})
}

// GetDocument 查询单条文档记录
//
// 路由: POST /ingest/getDocument
func (h *IngestHandler) GetDocument(c *gin.Context) {
	var req request.GetDocumentRequest
	if err := c.BindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	rec, err := h.svc.GetDocument(c.Request.Context(), req.Id)
	if err != nil {
		zlog.Error("get document failed", zap.Int64("id", req.Id), zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}
	if rec == nil {
		back.Error(c, xerr.NotFound, "记录不存在")
		return
	}

	resp := &respond.DocumentRespond{
		Id:            rec.Id,
		FileName:      rec.FileName,
		HashHex:       rec.HashHex,
		ObjectKey:     rec.ObjectKey,
		Status:        rec.Status,
		ErrorMsg:      rec.ErrorMsg,
		ExtractedJson: rec.ExtractedJson,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.ExtractedAt.Valid {
		t := rec.ExtractedAt.Time
		resp.ExtractedAt = &t
	}
	back.Success(c, resp)
}
