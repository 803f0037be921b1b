package repository

import (
	"context"
	"io"
)

type ObjectStore interface {
	// Upload 写入一个对象并返回其存储键
	Upload(ctx context.Context, name string, r io.Reader) (string, error)

	// Delete 删除对象，只在回滚路径中调用
	Delete(ctx context.Context, objectKey string) error
}
