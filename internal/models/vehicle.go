package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// 里程换算系数
const (
	KmPerMile  = 1.60934
	MilesPerKm = 0.621371
)

// DistanceUnit 里程单位
type DistanceUnit string

const (
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "mi"
)

// Vehicle 从 Smartcar 读取并归一化后的车辆信息
type Vehicle struct {
	SourceID string `json:"source_id"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`
	VIN      string `json:"vin,omitempty"` // 大写、去空格；空表示未知
}

// Name 车辆名称 "{year} {make} {model}"
func (v *Vehicle) Name() string {
	year := ""
	if v.Year > 0 {
		year = strconv.Itoa(v.Year)
	}
	return NormalizeName(fmt.Sprintf("%s %s %s", year, v.Make, v.Model))
}

// NormalizeName 去掉首尾空白，连续空白合并为一个空格；大小写不变
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizeVIN VIN 去空格并转大写
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// OdometerReading 里程表读数
type OdometerReading struct {
	Distance float64      `json:"distance"`
	Unit     DistanceUnit `json:"unit"`
}

// Miles 归一化为英里
func (o OdometerReading) Miles() float64 {
	if o.Unit == UnitMiles {
		return o.Distance
	}
	return KmToMiles(o.Distance)
}

// KmToMiles 公里转英里
func KmToMiles(km float64) float64 {
	return km / KmPerMile
}

// MilesToKm 英里转公里
func MilesToKm(miles float64) float64 {
	return miles * KmPerMile
}

// TargetID Fleetio 记录 ID，接口可能返回数字或字符串
type TargetID string

// UnmarshalJSON 同时接受 JSON 数字和字符串
func (id *TargetID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = TargetID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode target id %s: %w", string(data), err)
	}
	*id = TargetID(n.String())
	return nil
}

// MarshalJSON 纯数字 ID 按数字输出
func (id TargetID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// TargetVehicle Fleetio 中的车辆记录
type TargetVehicle struct {
	ID   TargetID `json:"id"`
	VIN  string   `json:"vin"`
	Name string   `json:"name"`
}

// MeterEntry 里程表读数记录（只追加）
type MeterEntry struct {
	VehicleID TargetID  `json:"vehicle_id"`
	Value     float64   `json:"value"` // 英里
	Date      time.Time `json:"date"`
}
