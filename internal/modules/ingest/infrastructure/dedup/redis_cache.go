package dedup

import (
	"context"
	"strconv"
	"time"

	"OmniIngest/internal/modules/ingest/domain/repository"
	pkgredis "OmniIngest/pkg/redis"
	"OmniIngest/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "ingest:hash:"

// RedisCache 哈希到记录 id 的旁路缓存，走 pkg/redis 的全局客户端。
// 所有错误都只记日志：缓存不可用时去重查询直接落到数据库
type RedisCache struct {
	ttl time.Duration
}

func NewRedisCache(ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, hashHex string) (int64, bool) {
	if c == nil || !pkgredis.IsConnected() {
		return 0, false
	}
	v, err := pkgredis.Get(ctx, keyPrefix+hashHex)
	if err != nil {
		if err != goredis.Nil {
			zlog.Warn("dedup cache get failed", zap.Error(err))
		}
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (c *RedisCache) Set(ctx context.Context, hashHex string, recordID int64) {
	if c == nil || !pkgredis.IsConnected() || recordID <= 0 {
		return
	}
	if err := pkgredis.Set(ctx, keyPrefix+hashHex, strconv.FormatInt(recordID, 10), c.ttl); err != nil {
		zlog.Warn("dedup cache set failed", zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, hashHex string) {
	if c == nil || !pkgredis.IsConnected() {
		return
	}
	if _, err := pkgredis.Del(ctx, keyPrefix+hashHex); err != nil {
		zlog.Warn("dedup cache invalidate failed", zap.Error(err))
	}
}

var _ repository.DedupCache = (*RedisCache)(nil)
