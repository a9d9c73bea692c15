package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/fleetio"
	"github.com/langchou/odosync/internal/api/smartcar"
)

// 错误定义
var (
	ErrAttributesUnavailable = errors.New("vehicle attributes unavailable")
	ErrSyncInProgress        = errors.New("sync already in progress")
	ErrAuthorizationDenied   = errors.New("authorization denied")
	ErrStateMismatch         = errors.New("oauth state mismatch")
)

// AuthError 无法获取可用凭证，整轮同步终止
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("smartcar authorization failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SourceError Smartcar 读取失败
type SourceError struct {
	VehicleID string
	Op        string
	Err       error
}

func (e *SourceError) Error() string {
	if e.VehicleID == "" {
		return fmt.Sprintf("smartcar %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("smartcar %s for vehicle %s: %v", e.Op, e.VehicleID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// LookupError Fleetio 查询失败（传输错误或非 200）
type LookupError struct {
	Field fleetio.SearchField
	Value string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("fleetio lookup by %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// errorFields 从 API 错误中提取状态码和响应体用于日志
func errorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}

	var fleetErr *fleetio.APIError
	if errors.As(err, &fleetErr) {
		return append(fields, zap.Int("status", fleetErr.StatusCode), zap.String("body", fleetErr.Body))
	}
	var scErr *smartcar.APIError
	if errors.As(err, &scErr) {
		return append(fields, zap.Int("status", scErr.StatusCode), zap.String("body", scErr.Body))
	}
	return fields
}
