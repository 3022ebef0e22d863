package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// 指标名称（与设备上报的 JSON 字段保持一致）
const (
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
	MetricAirQuality  = "air_quality"
)

// Metrics 固定的指标顺序（报警原因、导出列都按此顺序）
var Metrics = []string{MetricTemperature, MetricHumidity, MetricAirQuality}

// 设备上报的移动检测字符串
const (
	MovementDetected    = "Movement Detected"
	MovementNotDetected = "No Movement"
)

// SensorSnapshot 单次传感器观测（从数据存储读取，收到后不可修改）
type SensorSnapshot struct {
	Temperature *float64  `json:"temperature,omitempty"` // °C
	Humidity    *float64  `json:"humidity,omitempty"`    // %
	AirQuality  *float64  `json:"air_quality,omitempty"` // %
	Movement    *Movement `json:"movement,omitempty"`    // 可选，仅用于展示
	ObservedAt  string    `json:"last_time,omitempty"`   // 设备时间（ISO-8601）
}

// Value 按指标名称读取数值，指标缺失时返回 false
func (s SensorSnapshot) Value(metric string) (float64, bool) {
	var v *float64
	switch metric {
	case MetricTemperature:
		v = s.Temperature
	case MetricHumidity:
		v = s.Humidity
	case MetricAirQuality:
		v = s.AirQuality
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// ParseTimestamp 解析 ISO-8601 时间戳（兼容带/不带时区的写法）
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", value)
}

// FormatTimestamp 生成历史记录使用的时间键
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Float 返回指向 v 的指针（构造快照时使用）
func Float(v float64) *float64 {
	return &v
}

// Movement 移动检测结果，设备可能上报 bool 或字符串
type Movement struct {
	Detected bool
	Raw      string // 原始字符串（上报为 bool 时为空）
}

// UnmarshalJSON 兼容 true/false 与 "Movement Detected"/"No Movement"
func (m *Movement) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		m.Detected = b
		m.Raw = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("movement must be bool or string: %w", err)
	}
	m.Raw = s
	m.Detected = s == MovementDetected
	return nil
}

// MarshalJSON 按原始格式写回
func (m Movement) MarshalJSON() ([]byte, error) {
	if m.Raw != "" {
		return json.Marshal(m.Raw)
	}
	return json.Marshal(m.Detected)
}

// String 展示文本
func (m Movement) String() string {
	if m.Detected {
		return "Detected"
	}
	return "Not Detected"
}

// HistoricalSeries 历史数据（observed_at -> 快照）
type HistoricalSeries map[string]SensorSnapshot

// DeviceStatus 设备在线状态（派生，不存储）
type DeviceStatus struct {
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
