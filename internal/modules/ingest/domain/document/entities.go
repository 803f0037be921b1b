package document

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// 记录创建时即为 processing，成功收敛到 completed 或 completed_degraded。
// 失败的提交走补偿回滚，行会被删除而不是改写状态，所以本服务新写入的行
// 不会出现 pending / failed；这两个值保留给历史数据和外部写入方。
const (
	StatusPending           int8 = 0
	StatusProcessing        int8 = 1
	StatusCompleted         int8 = 2
	StatusFailed            int8 = 3
	StatusCompletedDegraded int8 = 4
)

// IsTerminalStatus 终态不允许再变更
func IsTerminalStatus(s int8) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCompletedDegraded
}

type DocumentRecord struct {
	Id            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	FileName      string         `gorm:"column:file_name;type:varchar(255);not null"`
	HashHex       string         `gorm:"column:hash_hex;type:char(64);not null;uniqueIndex:uniq_ingest_doc_hash"`
	HashBase64    string         `gorm:"column:hash_base64;type:varchar(64);not null"`
	ObjectKey     string         `gorm:"column:object_key;type:varchar(128);not null"`
	VectorId      string         `gorm:"column:vector_id;type:varchar(128)"`
	Status        int8           `gorm:"column:status;type:tinyint;not null;default:0;index:idx_ingest_doc_status"`
	ErrorMsg      string         `gorm:"column:error_msg;type:varchar(255)"`
	ExtractedJson string         `gorm:"column:extracted_json;type:json"`
	ExtractedAt   sql.NullTime   `gorm:"column:extracted_at;type:datetime"`
	CreatedAt     time.Time      `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;type:datetime;not null"`
	DeletedAt     gorm.DeletedAt `gorm:"column:deleted_at;type:datetime;index"`
}

func (DocumentRecord) TableName() string { return "ingest_document" }
