package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ObjectReader 读取对象存储中已上传文件的内容
type ObjectReader interface {
	Read(ctx context.Context, objectKey string) ([]byte, error)
}

const extractSystemPrompt = `You are a document extraction service.
Extract the document into a single JSON object that conforms to the JSON schema provided by the user.
Respond with the JSON object only, no markdown fences and no commentary.`

// EinoExtractor 基于 eino 聊天模型的结构化抽取实现
type EinoExtractor struct {
	cm     model.BaseChatModel
	reader ObjectReader
}

func NewEinoExtractor(cm model.BaseChatModel, reader ObjectReader) (*EinoExtractor, error) {
	if cm == nil {
		return nil, errors.New("chat model is nil")
	}
	if reader == nil {
		return nil, errors.New("object reader is nil")
	}
	return &EinoExtractor{cm: cm, reader: reader}, nil
}

func (e *EinoExtractor) Extract(ctx context.Context, objectKey string, schemaJSON string) (string, error) {
	if strings.TrimSpace(schemaJSON) == "" {
		return "", &ValidationError{Message: "schema is empty"}
	}
	if !json.Valid([]byte(schemaJSON)) {
		return "", &ValidationError{Message: "schema is not valid JSON"}
	}

	content, err := e.reader.Read(ctx, objectKey)
	if err != nil {
		return "", &ConnectionError{Err: fmt.Errorf("read object %s: %w", objectKey, err)}
	}

	msgs := []*schema.Message{
		schema.SystemMessage(extractSystemPrompt),
		schema.UserMessage("JSON schema:\n" + schemaJSON + "\n\nDocument:\n" + string(content)),
	}

	resp, err := e.cm.Generate(ctx, msgs)
	if err != nil {
		return "", classifyProviderError(err)
	}

	payload := strings.TrimSpace(resp.Content)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	payload = strings.TrimSpace(payload)

	if !json.Valid([]byte(payload)) {
		return "", &ValidationError{Message: "model did not return valid JSON"}
	}
	return payload, nil
}

// classifyProviderError 把 SDK 返回的错误映射到可分类的抽取错误。
// SDK 没有统一错误类型，按错误文本归类
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return &TimeoutError{Err: err}
		}
		return &ConnectionError{Err: err}
	}

	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "429") || strings.Contains(low, "rate limit") || strings.Contains(low, "too many requests"):
		return &RateLimitedError{Message: err.Error()}
	case strings.Contains(low, "401") || strings.Contains(low, "403") || strings.Contains(low, "unauthorized") || strings.Contains(low, "invalid api key") || strings.Contains(low, "permission"):
		return &AuthError{Message: err.Error()}
	case strings.Contains(low, "timeout") || strings.Contains(low, "deadline"):
		return &TimeoutError{Err: err}
	case strings.Contains(low, "connection") || strings.Contains(low, "connect:") || strings.Contains(low, "no such host") || strings.Contains(low, "eof"):
		return &ConnectionError{Err: err}
	case strings.Contains(low, "500") || strings.Contains(low, "502") || strings.Contains(low, "503") || strings.Contains(low, "504") || strings.Contains(low, "internal server error") || strings.Contains(low, "overloaded"):
		return &ServerError{Status: 503, Message: err.Error()}
	case strings.Contains(low, "400") || strings.Contains(low, "404") || strings.Contains(low, "invalid request") || strings.Contains(low, "bad request"):
		return &ClientError{Status: 400, Message: err.Error()}
	default:
		// 未知错误按服务端错误处理，给它重试的机会
		return &ServerError{Status: 500, Message: err.Error()}
	}
}
