package smartcar

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/langchou/odosync/internal/models"
)

// HeaderUnitSystem Smartcar 返回的单位制响应头（metric / imperial）
const HeaderUnitSystem = "SC-Unit-System"

// Token 认证令牌
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	CreatedAt    time.Time `json:"created_at"`
}

// Credential 转为持久化的令牌结构
func (t *Token) Credential() models.Credential {
	return models.Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		UpdatedAt:    t.CreatedAt,
	}
}

// Attributes 车辆基础信息
type Attributes struct {
	ID    string `json:"id"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

type vehiclesResponse struct {
	Vehicles []string `json:"vehicles"`
	Paging   struct {
		Count  int `json:"count"`
		Offset int `json:"offset"`
	} `json:"paging"`
}

type vinResponse struct {
	VIN string `json:"vin"`
}

type odometerResponse struct {
	Distance *float64 `json:"distance"`
	Unit     string   `json:"unit,omitempty"`
}

// 错误定义
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrNoAccessToken = errors.New("no access token")
)

// APIError 非 200 响应
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

// Is 支持 errors.Is(err, ErrUnauthorized) 等判断
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}
