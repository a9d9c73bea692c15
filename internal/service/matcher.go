package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/fleetio"
	"github.com/langchou/odosync/internal/models"
)

// FleetAPI Fleetio 接口
type FleetAPI interface {
	Ping(ctx context.Context) error
	SearchVehicles(ctx context.Context, field fleetio.SearchField, value string) ([]models.TargetVehicle, error)
	CreateVehicle(ctx context.Context, payload fleetio.VehiclePayload) (*models.TargetVehicle, error)
	UpdateVehicle(ctx context.Context, id models.TargetID, payload fleetio.VehiclePayload) error
	CreateMeterEntry(ctx context.Context, entry models.MeterEntry) error
}

// VehicleSearcher 匹配只需要查询
type VehicleSearcher interface {
	SearchVehicles(ctx context.Context, field fleetio.SearchField, value string) ([]models.TargetVehicle, error)
}

// Match 匹配结果，ID 为空表示需要新建
type Match struct {
	ID   models.TargetID
	Kind models.MatchKind
}

// Found 是否匹配到已有记录
func (m Match) Found() bool {
	return m.ID != ""
}

// Matcher 在 Fleetio 中查找对应车辆：先 VIN，后名称
type Matcher struct {
	fleet  VehicleSearcher
	logger *zap.Logger
}

// NewMatcher 创建匹配器
func NewMatcher(fleet VehicleSearcher, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{fleet: fleet, logger: logger}
}

// Find 返回匹配到的 Fleetio 车辆 ID
// 服务端过滤可能是模糊匹配，这里对结果再做精确比对。
// 名称匹配时若已知 VIN，VIN 不同的候选记录视为另一辆车。
func (m *Matcher) Find(ctx context.Context, vin, name string) (Match, error) {
	vin = models.NormalizeVIN(vin)
	name = models.NormalizeName(name)

	if vin != "" {
		candidates, err := m.fleet.SearchVehicles(ctx, fleetio.SearchByVIN, vin)
		if err != nil {
			return Match{Kind: models.MatchNone}, &LookupError{Field: fleetio.SearchByVIN, Value: vin, Err: err}
		}
		for _, c := range candidates {
			if c.ID != "" && models.NormalizeVIN(c.VIN) == vin {
				return Match{ID: c.ID, Kind: models.MatchVIN}, nil
			}
		}
	}

	if name == "" {
		return Match{Kind: models.MatchNone}, nil
	}

	candidates, err := m.fleet.SearchVehicles(ctx, fleetio.SearchByName, name)
	if err != nil {
		return Match{Kind: models.MatchNone}, &LookupError{Field: fleetio.SearchByName, Value: name, Err: err}
	}
	for _, c := range candidates {
		if c.ID == "" || models.NormalizeName(c.Name) != name {
			continue
		}
		if other := models.NormalizeVIN(c.VIN); vin != "" && other != "" && other != vin {
			m.logger.Info("Name match rejected, VIN differs",
				zap.String("name", name),
				zap.String("vin", vin),
				zap.String("target_id", string(c.ID)),
				zap.String("target_vin", other))
			continue
		}
		return Match{ID: c.ID, Kind: models.MatchName}, nil
	}

	return Match{Kind: models.MatchNone}, nil
}
