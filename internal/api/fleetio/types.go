package fleetio

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/langchou/odosync/internal/models"
)

// SearchField 车辆查询字段
type SearchField string

const (
	SearchByVIN  SearchField = "vin"
	SearchByName SearchField = "name"
)

// 创建车辆时的默认值
const (
	DefaultMeterUnit     = "mi"
	DefaultVehicleType   = "Vehicle"
	DefaultVehicleStatus = "Active"
)

// VehiclePayload 创建/更新车辆请求体
type VehiclePayload struct {
	Name              string `json:"name"`
	Make              string `json:"make,omitempty"`
	Model             string `json:"model,omitempty"`
	Year              int    `json:"year,omitempty"`
	VIN               string `json:"vin,omitempty"`
	PrimaryMeterUnit  string `json:"primary_meter_unit,omitempty"`
	VehicleTypeName   string `json:"vehicle_type_name,omitempty"`
	VehicleStatusName string `json:"vehicle_status_name,omitempty"`
}

// NewVehiclePayload 由 Smartcar 车辆构造更新请求体（不含默认值）
func NewVehiclePayload(v *models.Vehicle) VehiclePayload {
	return VehiclePayload{
		Name:  v.Name(),
		Make:  v.Make,
		Model: v.Model,
		Year:  v.Year,
		VIN:   v.VIN,
	}
}

// WithDefaults 补上创建时需要的默认字段
func (p VehiclePayload) WithDefaults() VehiclePayload {
	if p.PrimaryMeterUnit == "" {
		p.PrimaryMeterUnit = DefaultMeterUnit
	}
	if p.VehicleTypeName == "" {
		p.VehicleTypeName = DefaultVehicleType
	}
	if p.VehicleStatusName == "" {
		p.VehicleStatusName = DefaultVehicleStatus
	}
	return p
}

type meterEntryPayload struct {
	VehicleID models.TargetID `json:"vehicle_id"`
	Value     float64         `json:"value"`
	Date      string          `json:"date"`
}

type recordsEnvelope struct {
	Records []models.TargetVehicle `json:"records"`
}

// decodeVehicles 列表接口可能返回数组，也可能返回 {"records": [...]}
func decodeVehicles(body []byte) ([]models.TargetVehicle, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var vehicles []models.TargetVehicle
		if err := json.Unmarshal(body, &vehicles); err != nil {
			return nil, fmt.Errorf("decode vehicles: %w", err)
		}
		return vehicles, nil
	}

	var env recordsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode vehicles: %w", err)
	}
	return env.Records, nil
}

// 错误定义
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrMissingID    = errors.New("response missing vehicle id")
)

// APIError 非预期状态码
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

// Is 401/403 视为认证失败
func (e *APIError) Is(target error) bool {
	if target == ErrUnauthorized {
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Temporary 服务端错误或限流
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
