package repository

import "context"

// DedupCache 哈希到记录 id 的旁路缓存。纯粹的建议性优化：
// 任何缓存错误都应被实现吞掉，未命中时回落到数据库查询
type DedupCache interface {
	Get(ctx context.Context, hashHex string) (int64, bool)
	Set(ctx context.Context, hashHex string, recordID int64)
	Invalidate(ctx context.Context, hashHex string)
}
