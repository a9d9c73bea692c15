package smartcar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/langchou/odosync/internal/metrics"
)

// DefaultScopes 同步所需的最小权限
var DefaultScopes = []string{"read_vehicle_info", "read_odometer", "read_vin"}

// AuthURL 构造授权地址
func (c *Client) AuthURL(scopes []string, state string, force bool) string {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.clientID)
	values.Set("redirect_uri", c.redirectURI)
	values.Set("scope", strings.Join(scopes, " "))
	if state != "" {
		values.Set("state", state)
	}
	if force {
		values.Set("approval_prompt", "force")
	}

	if strings.Contains(c.authURL, "?") {
		return c.authURL + "&" + values.Encode()
	}
	return c.authURL + "?" + values.Encode()
}

// ExchangeCode 用授权码换取令牌
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	return c.postToken(ctx, "exchange_code", data)
}

// RefreshToken 用刷新令牌换取新令牌
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.postToken(ctx, "refresh_token", data)
}

func (c *Client) postToken(ctx context.Context, op string, data url.Values) (*Token, error) {
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest("smartcar", op, 0, time.Since(start))
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest("smartcar", op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("%s: token response missing access_token", op)
	}
	token.CreatedAt = time.Now()
	return &token, nil
}
