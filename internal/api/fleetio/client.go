package fleetio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/langchou/odosync/internal/metrics"
	"github.com/langchou/odosync/internal/models"
)

// HTTPDoer http.Client 的最小接口
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config Fleetio 客户端配置
type Config struct {
	APIHost      string
	APIToken     string
	AccountToken string
	RateLimit    float64 // 每秒请求数，<=0 不限速
	Timeout      time.Duration
	HTTPClient   HTTPDoer
}

// Client Fleetio API 客户端
type Client struct {
	httpClient   HTTPDoer
	apiHost      string
	apiToken     string
	accountToken string
	limiter      *rate.Limiter
	timeout      time.Duration
}

// NewClient 创建 Fleetio 客户端
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		httpClient:   httpClient,
		apiHost:      strings.TrimRight(strings.TrimSpace(cfg.APIHost), "/"),
		apiToken:     strings.TrimSpace(cfg.APIToken),
		accountToken: strings.TrimSpace(cfg.AccountToken),
		limiter:      rate.NewLimiter(limit, 1),
		timeout:      cfg.Timeout,
	}
}

// do 发送请求，返回状态码和响应体
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("%s rate limit wait: %w", op, err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.apiHost+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Token token="+c.apiToken)
	req.Header.Set("Account-Token", c.accountToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest("fleetio", op, 0, time.Since(start))
		return 0, nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest("fleetio", op, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return resp.StatusCode, respBody, nil
}

// Ping 校验 API 凭证
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, "ping", http.MethodGet, "/vehicles?per_page=1", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Op: "ping", StatusCode: status, Body: string(body)}
	}
	return nil
}

// SearchVehicles 按 VIN 或名称等值查询车辆
// 服务端过滤可能是模糊匹配，调用方需自行精确比对
func (c *Client) SearchVehicles(ctx context.Context, field SearchField, value string) ([]models.TargetVehicle, error) {
	switch field {
	case SearchByVIN, SearchByName:
	default:
		return nil, fmt.Errorf("unsupported search field %q", field)
	}

	query := url.Values{}
	query.Set(fmt.Sprintf("q[%s_eq]", field), value)
	op := "search_by_" + string(field)

	status, body, err := c.do(ctx, op, http.MethodGet, "/vehicles?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{Op: op, StatusCode: status, Body: string(body)}
	}
	return decodeVehicles(body)
}

// CreateVehicle 创建车辆，成功返回 201
func (c *Client) CreateVehicle(ctx context.Context, payload VehiclePayload) (*models.TargetVehicle, error) {
	status, body, err := c.do(ctx, "create_vehicle", http.MethodPost, "/vehicles", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, &APIError{Op: "create_vehicle", StatusCode: status, Body: string(body)}
	}

	var vehicle models.TargetVehicle
	if err := json.Unmarshal(body, &vehicle); err != nil {
		return nil, fmt.Errorf("decode create_vehicle response: %w", err)
	}
	if vehicle.ID == "" {
		return nil, ErrMissingID
	}
	return &vehicle, nil
}

// UpdateVehicle 更新车辆，成功返回 200
func (c *Client) UpdateVehicle(ctx context.Context, id models.TargetID, payload VehiclePayload) error {
	if id == "" {
		return ErrMissingID
	}
	status, body, err := c.do(ctx, "update_vehicle", http.MethodPatch, "/vehicles/"+url.PathEscape(string(id)), payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Op: "update_vehicle", StatusCode: status, Body: string(body)}
	}
	return nil
}

// CreateMeterEntry 追加里程表读数，成功返回 201
func (c *Client) CreateMeterEntry(ctx context.Context, entry models.MeterEntry) error {
	if entry.VehicleID == "" {
		return ErrMissingID
	}
	payload := meterEntryPayload{
		VehicleID: entry.VehicleID,
		Value:     entry.Value,
		Date:      entry.Date.UTC().Format(time.RFC3339),
	}

	status, body, err := c.do(ctx, "create_meter_entry", http.MethodPost, "/meter_entries", payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return &APIError{Op: "create_meter_entry", StatusCode: status, Body: string(body)}
	}
	return nil
}
