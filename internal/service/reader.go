package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/smartcar"
	"github.com/langchou/odosync/internal/models"
)

// 品牌、型号缺失时的占位
const (
	UnknownMake  = "Unknown Make"
	UnknownModel = "Unknown Model"
)

// SmartcarAPI Smartcar 车辆数据接口
type SmartcarAPI interface {
	ListVehicles(ctx context.Context, accessToken string) ([]string, error)
	GetAttributes(ctx context.Context, accessToken, vehicleID string) (*smartcar.Attributes, error)
	GetVIN(ctx context.Context, accessToken, vehicleID string) (string, error)
	GetOdometer(ctx context.Context, accessToken, vehicleID string) (*models.OdometerReading, error)
}

// VehicleData 单车读取结果
// Odometer 为 nil 表示读数不可用，此时不追加 meter entry
type VehicleData struct {
	Vehicle  models.Vehicle
	Odometer *models.OdometerReading
	Warnings []string
}

// Miles 归一化后的英里数
func (d *VehicleData) Miles() (float64, bool) {
	if d.Odometer == nil {
		return 0, false
	}
	return d.Odometer.Miles(), true
}

// SourceReader 从 Smartcar 读取车辆
type SourceReader struct {
	api    SmartcarAPI
	logger *zap.Logger
}

// NewSourceReader 创建读取器
func NewSourceReader(api SmartcarAPI, logger *zap.Logger) *SourceReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceReader{api: api, logger: logger}
}

// ListVehicleIDs 列出已授权车辆
// 失败时返回空列表和错误，调用方按零辆车继续
func (r *SourceReader) ListVehicleIDs(ctx context.Context, cred models.Credential) ([]string, error) {
	ids, err := r.api.ListVehicles(ctx, cred.AccessToken)
	if err != nil {
		return []string{}, &SourceError{Op: "list_vehicles", Err: err}
	}
	return ids, nil
}

// FetchVehicle 读取属性、VIN、里程
// 属性失败则整车跳过；VIN 或里程失败只降级对应字段
func (r *SourceReader) FetchVehicle(ctx context.Context, cred models.Credential, vehicleID string) (*VehicleData, error) {
	attrs, err := r.api.GetAttributes(ctx, cred.AccessToken, vehicleID)
	if err != nil {
		return nil, &SourceError{VehicleID: vehicleID, Op: "attributes", Err: fmt.Errorf("%w: %w", ErrAttributesUnavailable, err)}
	}

	data := &VehicleData{
		Vehicle: models.Vehicle{
			SourceID: vehicleID,
			Make:     orDefault(attrs.Make, UnknownMake),
			Model:    orDefault(attrs.Model, UnknownModel),
			Year:     attrs.Year,
		},
	}

	vin, err := r.api.GetVIN(ctx, cred.AccessToken, vehicleID)
	if err != nil {
		r.logger.Warn("Failed to fetch VIN, continuing without it",
			append(errorFields(err), zap.String("vehicle_id", vehicleID))...)
		data.Warnings = append(data.Warnings, "vin: "+err.Error())
	} else {
		data.Vehicle.VIN = models.NormalizeVIN(vin)
	}

	reading, err := r.api.GetOdometer(ctx, cred.AccessToken, vehicleID)
	if err != nil {
		r.logger.Warn("Failed to fetch odometer, meter entry will be skipped",
			append(errorFields(err), zap.String("vehicle_id", vehicleID))...)
		data.Warnings = append(data.Warnings, "odometer: "+err.Error())
	} else {
		// 入口即换算为英里
		data.Odometer = &models.OdometerReading{Distance: reading.Miles(), Unit: models.UnitMiles}
	}

	return data, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
