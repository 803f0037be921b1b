package request

// SubmitAsyncRequest 异步提交请求，内容走 base64 编码经 Kafka 投递
type SubmitAsyncRequest struct {
	FileName      string `json:"file_name" binding:"required"`
	ContentBase64 string `json:"content_base64" binding:"required"`

	IncludeSoftDeleted bool `json:"include_soft_deleted"` // 去重时是否把逻辑删除的记录算作已存在

	SchemaJSON string `json:"schema_json"` // 可选，覆盖默认抽取 schema
}

// GetDocumentRequest 按记录 id 查询文档
type GetDocumentRequest struct {
	Id int64 `json:"id" binding:"required"`
}
