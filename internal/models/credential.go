package models

import (
	"strings"
	"time"
)

// Credential Smartcar 认证令牌
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// HasAccessToken 是否有访问令牌
func (c Credential) HasAccessToken() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// HasRefreshToken 是否有刷新令牌
func (c Credential) HasRefreshToken() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}
