package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/langchou/odosync/internal/models"
)

// 默认的 .env 键名
const (
	KeyAccessToken  = "SMARTCAR_ACCESS_TOKEN"
	KeyRefreshToken = "SMARTCAR_REFRESH_TOKEN"
	KeyUpdatedAt    = "SMARTCAR_TOKEN_UPDATED_AT"
)

// EnvFile KEY=VALUE 格式的令牌存储
type EnvFile struct {
	path string
	mu   sync.Mutex
}

// NewEnvFile 创建 .env 存储
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{path: path}
}

// Path 文件路径
func (s *EnvFile) Path() string {
	return s.path
}

// Load 读取令牌；文件不存在时返回空令牌
func (s *EnvFile) Load(_ context.Context) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return models.Credential{}, err
	}

	cred := models.Credential{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}
	if ts := values[KeyUpdatedAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			cred.UpdatedAt = t
		}
	}
	return cred, nil
}

// Save 覆盖令牌相关的键，保留其他键
func (s *EnvFile) Save(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}

	values[KeyAccessToken] = cred.AccessToken
	values[KeyRefreshToken] = cred.RefreshToken
	if !cred.UpdatedAt.IsZero() {
		values[KeyUpdatedAt] = cred.UpdatedAt.UTC().Format(time.RFC3339)
	}

	return writeFileAtomic(s.path, encodeEnv(values), 0600)
}

// envEscaper 双引号值的转义，godotenv 解析时会还原
var envEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	`$`, `\$`,
)

// encodeEnv 按键排序写出 KEY="value"
// 所有值都加引号，纯数字的值也原样保留
func encodeEnv(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=\"%s\"\n", k, envEscaper.Replace(values[k]))
	}
	return []byte(b.String())
}

func (s *EnvFile) read() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return values, nil
}
