package respond

import "time"

// SubmitRespond 同步提交结果
type SubmitRespond struct {
	Outcome    string `json:"outcome"`               // completed / duplicate / failed
	RecordID   int64  `json:"record_id,omitempty"`   // 新建记录 id
	ExistingID int64  `json:"existing_id,omitempty"` // 重复时已存在的记录 id
	Degraded   bool   `json:"degraded,omitempty"`    // 索引写入失败导致的降级完成
	Reason     string `json:"reason,omitempty"`      // 失败原因
	Retryable  bool   `json:"retryable,omitempty"`   // 失败是否值得重试
}

// SubmitAsyncRespond 异步提交已入队
type SubmitAsyncRespond struct {
	HashHex string `json:"hash_hex"` // 内容哈希，可用于后续查询
}

// DocumentRespond 文档记录详情
type DocumentRespond struct {
	Id            int64      `json:"id"`
	FileName      string     `json:"file_name"`
	HashHex       string     `json:"hash_hex"`
	ObjectKey     string     `json:"object_key"`
	Status        int8       `json:"status"`
	ErrorMsg      string     `json:"error_msg,omitempty"`
	ExtractedJson string     `json:"extracted_json,omitempty"`
	ExtractedAt   *time.Time `json:"extracted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
