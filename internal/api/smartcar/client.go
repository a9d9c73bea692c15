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
	"github.com/langchou/odosync/internal/models"
)

// HTTPDoer http.Client 的最小接口，便于测试替换
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config Smartcar 客户端配置
type Config struct {
	AuthURL      string
	TokenURL     string
	APIHost      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
	HTTPClient   HTTPDoer
}

// Client Smartcar API 客户端
type Client struct {
	httpClient   HTTPDoer
	authURL      string
	tokenURL     string
	apiHost      string
	clientID     string
	clientSecret string
	redirectURI  string
	timeout      time.Duration
}

// NewClient 创建新的 Smartcar API 客户端
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		httpClient:   httpClient,
		authURL:      strings.TrimSpace(cfg.AuthURL),
		tokenURL:     strings.TrimSpace(cfg.TokenURL),
		apiHost:      strings.TrimRight(strings.TrimSpace(cfg.APIHost), "/"),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		redirectURI:  strings.TrimSpace(cfg.RedirectURI),
		timeout:      cfg.Timeout,
	}
}

// doRequest 执行带认证的请求，返回状态码和响应体
func (c *Client) doRequest(ctx context.Context, op, accessToken, path string) (int, http.Header, []byte, error) {
	if strings.TrimSpace(accessToken) == "" {
		return 0, nil, nil, fmt.Errorf("%s: %w", op, ErrNoAccessToken)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiHost+path, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "odosync/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest("smartcar", op, 0, time.Since(start))
		return 0, nil, nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest("smartcar", op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// getJSON GET 并解码，非 200 返回 *APIError
func (c *Client) getJSON(ctx context.Context, op, accessToken, path string, out interface{}) (http.Header, error) {
	status, header, body, err := c.doRequest(ctx, op, accessToken, path)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return header, &APIError{Op: op, StatusCode: status, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return header, fmt.Errorf("decode %s response: %w", op, err)
	}
	return header, nil
}

// ListVehicles 获取已授权车辆 ID 列表
func (c *Client) ListVehicles(ctx context.Context, accessToken string) ([]string, error) {
	var resp vehiclesResponse
	if _, err := c.getJSON(ctx, "list_vehicles", accessToken, "/vehicles", &resp); err != nil {
		return nil, err
	}
	return resp.Vehicles, nil
}

// GetAttributes 获取车辆品牌、型号、年份
func (c *Client) GetAttributes(ctx context.Context, accessToken, vehicleID string) (*Attributes, error) {
	var attrs Attributes
	if _, err := c.getJSON(ctx, "attributes", accessToken, "/vehicles/"+url.PathEscape(vehicleID), &attrs); err != nil {
		return nil, err
	}
	return &attrs, nil
}

// GetVIN 获取车辆 VIN
func (c *Client) GetVIN(ctx context.Context, accessToken, vehicleID string) (string, error) {
	var resp vinResponse
	if _, err := c.getJSON(ctx, "vin", accessToken, "/vehicles/"+url.PathEscape(vehicleID)+"/vin", &resp); err != nil {
		return "", err
	}
	return resp.VIN, nil
}

// GetOdometer 获取里程表读数
// 单位优先取响应体 unit 字段，其次取 SC-Unit-System 头，默认公里
func (c *Client) GetOdometer(ctx context.Context, accessToken, vehicleID string) (*models.OdometerReading, error) {
	var resp odometerResponse
	header, err := c.getJSON(ctx, "odometer", accessToken, "/vehicles/"+url.PathEscape(vehicleID)+"/odometer", &resp)
	if err != nil {
		return nil, err
	}
	if resp.Distance == nil {
		return nil, fmt.Errorf("odometer response missing distance")
	}

	return &models.OdometerReading{
		Distance: *resp.Distance,
		Unit:     resolveUnit(resp.Unit, header.Get(HeaderUnitSystem)),
	}, nil
}

func resolveUnit(bodyUnit, unitSystem string) models.DistanceUnit {
	switch strings.ToLower(strings.TrimSpace(bodyUnit)) {
	case "mi", "mile", "miles":
		return models.UnitMiles
	case "km", "kilometer", "kilometers":
		return models.UnitKilometers
	}
	if strings.EqualFold(strings.TrimSpace(unitSystem), "imperial") {
		return models.UnitMiles
	}
	return models.UnitKilometers
}
