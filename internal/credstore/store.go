// Package credstore 持久化 Smartcar 令牌，进程重启后仍可用。
//
// 两种格式：KEY=VALUE 的 .env 文件（默认），以及单个 JSON 对象（路径以 .json 结尾）。
// 写入都是读-改-写：只覆盖令牌相关的键，其余键原样保留，最后通过临时文件 + rename 原子替换。
package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/langchou/odosync/internal/models"
)

// Store 令牌存储
type Store interface {
	Load(ctx context.Context) (models.Credential, error)
	Save(ctx context.Context, cred models.Credential) error
}

// New 根据文件扩展名选择存储格式
func New(path string) Store {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewJSONFile(path)
	}
	return NewEnvFile(path)
}

// writeFileAtomic 写入临时文件后 rename，避免写到一半的文件被读取
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
