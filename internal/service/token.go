package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/smartcar"
	"github.com/langchou/odosync/internal/credstore"
	"github.com/langchou/odosync/internal/metrics"
	"github.com/langchou/odosync/internal/models"
)

// OAuthAPI Smartcar OAuth 接口
type OAuthAPI interface {
	AuthURL(scopes []string, state string, force bool) string
	ExchangeCode(ctx context.Context, code string) (*smartcar.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*smartcar.Token, error)
}

// TokenProber 用一次轻量的认证请求检验 access token
type TokenProber interface {
	ListVehicles(ctx context.Context, accessToken string) ([]string, error)
}

// Prompter 交互式获取授权码
type Prompter interface {
	PromptCode(ctx context.Context, authURL, state string) (string, error)
}

// DefaultPromptTimeout 交互授权最长等待时间
const DefaultPromptTimeout = 10 * time.Minute

// TokenManager 维护 Smartcar 凭证：校验、刷新、重新授权
// 只有它会写凭证存储
type TokenManager struct {
	store    credstore.Store
	oauth    OAuthAPI
	prober   TokenProber
	prompter Prompter
	logger   *zap.Logger

	// 必须小于同步锁的 TTL
	promptTimeout time.Duration

	mu sync.Mutex
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(store credstore.Store, oauth OAuthAPI, prober TokenProber, prompter Prompter, logger *zap.Logger) *TokenManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		store:         store,
		oauth:         oauth,
		prober:        prober,
		prompter:      prompter,
		logger:        logger,
		promptTimeout: DefaultPromptTimeout,
	}
}

// SetPromptTimeout 设置交互授权等待上限，<=0 时使用默认值
func (m *TokenManager) SetPromptTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= 0 {
		d = DefaultPromptTimeout
	}
	m.promptTimeout = d
}

// EnsureValid 返回可用凭证
// 顺序：已存 access token 探测通过 → 刷新 → 交互授权
func (m *TokenManager) EnsureValid(ctx context.Context) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Load(ctx)
	if err != nil {
		// 存储读不了就当没有令牌，走授权流程
		m.logger.Warn("Failed to load stored credential", zap.Error(err))
		stored = models.Credential{}
	}

	if stored.HasAccessToken() {
		_, err := m.prober.ListVehicles(ctx, stored.AccessToken)
		if err == nil {
			m.logger.Debug("Stored access token is valid")
			metrics.RecordTokenAcquisition("stored", nil)
			return stored, nil
		}
		m.logger.Info("Stored access token rejected", errorFields(err)...)
	}

	if stored.HasRefreshToken() {
		token, err := m.oauth.RefreshToken(ctx, stored.RefreshToken)
		metrics.RecordTokenAcquisition("refresh", err)
		if err == nil {
			cred := token.Credential()
			if !cred.HasRefreshToken() {
				cred.RefreshToken = stored.RefreshToken
			}
			m.persist(ctx, cred)
			m.logger.Info("Refreshed Smartcar access token")
			return cred, nil
		}
		m.logger.Warn("Failed to refresh access token", errorFields(err)...)
	}

	return m.authorize(ctx)
}

// Authorize 强制交互授权，忽略已存凭证
func (m *TokenManager) Authorize(ctx context.Context) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorize(ctx)
}

func (m *TokenManager) authorize(ctx context.Context) (models.Credential, error) {
	if m.prompter == nil {
		err := &AuthError{Step: "prompt", Err: fmt.Errorf("no interactive prompter configured")}
		metrics.RecordTokenAcquisition("authorize", err)
		return models.Credential{}, err
	}

	state := uuid.NewString()
	authURL := m.oauth.AuthURL(smartcar.DefaultScopes, state, true)
	m.logger.Info("Smartcar authorization required", zap.String("auth_url", authURL))

	promptCtx, cancel := context.WithTimeout(ctx, m.promptTimeout)
	code, err := m.prompter.PromptCode(promptCtx, authURL, state)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("authorization not completed within %s: %w", m.promptTimeout, err)
		}
		metrics.RecordTokenAcquisition("authorize", err)
		return models.Credential{}, &AuthError{Step: "prompt", Err: err}
	}
	if strings.TrimSpace(code) == "" {
		err := &AuthError{Step: "prompt", Err: fmt.Errorf("empty authorization code")}
		metrics.RecordTokenAcquisition("authorize", err)
		return models.Credential{}, err
	}

	token, err := m.oauth.ExchangeCode(ctx, code)
	metrics.RecordTokenAcquisition("authorize", err)
	if err != nil {
		return models.Credential{}, &AuthError{Step: "exchange", Err: err}
	}

	cred := token.Credential()
	m.persist(ctx, cred)
	m.logger.Info("Obtained new Smartcar access token")
	return cred, nil
}

// persist 保存失败只记录日志，本轮仍使用新令牌
func (m *TokenManager) persist(ctx context.Context, cred models.Credential) {
	if err := m.store.Save(ctx, cred); err != nil {
		m.logger.Error("Failed to persist credential", zap.Error(err))
	}
}
