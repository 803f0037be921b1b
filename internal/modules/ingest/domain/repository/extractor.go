package repository

import "context"

// Extractor 外部结构化抽取服务。实现需要返回 extraction 包中
// 可分类的错误类型，供重试策略判断是否值得重试
type Extractor interface {
	Extract(ctx context.Context, objectKey string, schemaJSON string) (string, error)
}
