package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/langchou/odosync/internal/models"
)

// JSONFile JSON 对象格式的令牌存储
type JSONFile struct {
	path string
	mu   sync.Mutex
}

// NewJSONFile 创建 JSON 存储
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Load 读取令牌；文件不存在时返回空令牌
func (s *JSONFile) Load(_ context.Context) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return models.Credential{}, err
	}

	var cred models.Credential
	if raw, ok := doc["access_token"]; ok {
		_ = json.Unmarshal(raw, &cred.AccessToken)
	}
	if raw, ok := doc["refresh_token"]; ok {
		_ = json.Unmarshal(raw, &cred.RefreshToken)
	}
	if raw, ok := doc["updated_at"]; ok {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err == nil {
			cred.UpdatedAt = t
		}
	}
	return cred, nil
}

// Save 覆盖令牌字段，保留其他字段
func (s *JSONFile) Save(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	fields := map[string]any{
		"access_token":  cred.AccessToken,
		"refresh_token": cred.RefreshToken,
	}
	if !cred.UpdatedAt.IsZero() {
		fields["updated_at"] = cred.UpdatedAt.UTC()
	}
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		doc[key] = raw
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	return writeFileAtomic(s.path, data, 0600)
}

func (s *JSONFile) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return doc, nil
}
