package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"OmniIngest/pkg/util"
)

// LocalStore 把对象写到本地目录，对象键为不带中划线的 uuid。
// 同时实现 repository.ObjectStore 和 extraction.ObjectReader
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("object store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := util.GenerateShortUUID()
	ext := filepath.Ext(name)
	if ext != "" && len(ext) <= 8 {
		key += ext
	}

	path := filepath.Join(s.root, key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return key, nil
}

func (s *LocalStore) Delete(ctx context.Context, objectKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(objectKey)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *LocalStore) Read(ctx context.Context, objectKey string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(objectKey)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *LocalStore) resolve(objectKey string) (string, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" || strings.Contains(objectKey, "/") || strings.Contains(objectKey, "..") {
		return "", fmt.Errorf("invalid object key: %q", objectKey)
	}
	return filepath.Join(s.root, objectKey), nil
}
