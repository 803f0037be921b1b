package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"OmniIngest/internal/modules/ingest/domain/repository"

	"github.com/cloudwego/eino/components/embedding"
	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// 送入 embedding 的文本上限，超出截断；payload 原文完整落库
const maxEmbedChars = 4096

// MilvusIndex 把抽取结果镜像到 Milvus 集合，实现 repository.SearchIndex
type MilvusIndex struct {
	cli        mclient.Client
	embedder   embedding.Embedder
	collection string
	vectorDim  int
}

func NewMilvusIndex(cli mclient.Client, embedder embedding.Embedder, collection string, vectorDim int) (*MilvusIndex, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", vectorDim)
	}
	return &MilvusIndex{cli: cli, embedder: embedder, collection: collection, vectorDim: vectorDim}, nil
}

func (s *MilvusIndex) Upsert(ctx context.Context, recordID string, payload string, attrs map[string]string) error {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return errors.New("upsert missing recordID")
	}
	if len(attrs) > repository.MaxIndexAttributes {
		return fmt.Errorf("too many index attributes: %d > %d", len(attrs), repository.MaxIndexAttributes)
	}

	text := payload
	if len(text) > maxEmbedChars {
		// 截断落在 rune 边界上，避免送出残缺的多字节序列
		cut := maxEmbedChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	vecs, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return fmt.Errorf("unexpected embedding batch size for record=%s, got=%d", recordID, len(vecs))
	}
	if len(vecs[0]) != s.vectorDim {
		return fmt.Errorf("embedding dim mismatch for record=%s, got=%d want=%d", recordID, len(vecs[0]), s.vectorDim)
	}
	vector := make([]float32, s.vectorDim)
	for i, v := range vecs[0] {
		vector[i] = float32(v)
	}

	attrsJSON := []byte("{}")
	if len(attrs) > 0 {
		b, mErr := json.Marshal(attrs)
		if mErr != nil {
			return mErr
		}
		attrsJSON = b
	}

	_, err = s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar("id", []string{recordID}),
		entity.NewColumnFloatVector("vector", s.vectorDim, [][]float32{vector}),
		entity.NewColumnVarChar("payload", []string{payload}),
		entity.NewColumnJSONBytes("attributes", [][]byte{attrsJSON}),
	)
	return err
}

func (s *MilvusIndex) Remove(ctx context.Context, recordID string) error {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil
	}
	expr := fmt.Sprintf(`id in ["%s"]`, recordID)
	return s.cli.Delete(ctx, s.collection, "", expr)
}

var _ repository.SearchIndex = (*MilvusIndex)(nil)
