package repository

import "context"

// MaxIndexAttributes 单条索引记录允许携带的属性上限
const MaxIndexAttributes = 16

type SearchIndex interface {
	// Upsert 把抽取结果写入二级索引；attrs 超过 MaxIndexAttributes 时报错
	Upsert(ctx context.Context, recordID string, payload string, attrs map[string]string) error

	// Remove 从索引删除记录，作为非关键回滚动作使用
	Remove(ctx context.Context, recordID string) error
}
