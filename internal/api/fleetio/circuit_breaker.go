package fleetio

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/metrics"
	"github.com/langchou/odosync/internal/models"
)

// BreakerName 熔断器名称，同时作为指标标签
const BreakerName = "fleetio-api"

// CircuitBreakerClient 带熔断的 Fleetio 客户端
// 连续的 5xx/限流/网络错误会打开熔断，4xx 业务错误不计入失败
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	logger *zap.Logger
}

// NewCircuitBreakerClient 包装已有客户端
func NewCircuitBreakerClient(client *Client, logger *zap.Logger) *CircuitBreakerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.CircuitBreakerState.WithLabelValues(BreakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, logger: logger}
}

// isSuccessful 只有传输错误和临时性错误才算熔断失败
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary()
	}
	return false
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}

// State 当前熔断状态
func (cbc *CircuitBreakerClient) State() gobreaker.State {
	return cbc.cb.State()
}

func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("fleetio unavailable: %w", err)
	}
	return result, err
}

// Ping 带熔断的凭证校验
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// SearchVehicles 带熔断的车辆查询
func (cbc *CircuitBreakerClient) SearchVehicles(ctx context.Context, field SearchField, value string) ([]models.TargetVehicle, error) {
	result, err := cbc.execute(func() (interface{}, error) {
		return cbc.client.SearchVehicles(ctx, field, value)
	})
	if err != nil {
		return nil, err
	}
	vehicles, _ := result.([]models.TargetVehicle)
	return vehicles, nil
}

// CreateVehicle 带熔断的创建车辆
func (cbc *CircuitBreakerClient) CreateVehicle(ctx context.Context, payload VehiclePayload) (*models.TargetVehicle, error) {
	result, err := cbc.execute(func() (interface{}, error) {
		return cbc.client.CreateVehicle(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	vehicle, ok := result.(*models.TargetVehicle)
	if !ok || vehicle == nil {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return vehicle, nil
}

// UpdateVehicle 带熔断的更新车辆
func (cbc *CircuitBreakerClient) UpdateVehicle(ctx context.Context, id models.TargetID, payload VehiclePayload) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.UpdateVehicle(ctx, id, payload)
	})
	return err
}

// CreateMeterEntry 带熔断的读数追加
func (cbc *CircuitBreakerClient) CreateMeterEntry(ctx context.Context, entry models.MeterEntry) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.CreateMeterEntry(ctx, entry)
	})
	return err
}
