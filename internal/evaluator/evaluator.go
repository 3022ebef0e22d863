package evaluator

import (
	"fmt"
	"hive-watch/internal/models"
	"strconv"
	"strings"
)

// 固定阈值
const (
	TemperatureMin = 18.0
	TemperatureMax = 30.0
	HumidityMin    = 60.0
	AirQualityMin  = 60.0
)

const (
	AlertTitle   = "Beehive Alert 🚨"
	fallbackBody = "Abnormal sensor values detected"
	// AlertTag 同一个 tag 的通知会替换而不是堆叠
	AlertTag = "beehive-alert"
)

// Evaluate 评估快照是否异常（纯函数）
// 每个指标独立判断，缺失的指标视为正常；movement 只用于展示，不参与判断。
func Evaluate(s models.SensorSnapshot) models.AlertState {
	reasons := make([]models.Reason, 0, 3)

	if s.Temperature != nil {
		t := *s.Temperature
		if t < TemperatureMin {
			reasons = append(reasons, models.Reason{Metric: models.MetricTemperature, Value: t, Bound: TemperatureMin, Limit: models.LimitMin})
		} else if t > TemperatureMax {
			reasons = append(reasons, models.Reason{Metric: models.MetricTemperature, Value: t, Bound: TemperatureMax, Limit: models.LimitMax})
		}
	}

	if s.Humidity != nil && *s.Humidity < HumidityMin {
		reasons = append(reasons, models.Reason{Metric: models.MetricHumidity, Value: *s.Humidity, Bound: HumidityMin, Limit: models.LimitMin})
	}

	if s.AirQuality != nil && *s.AirQuality < AirQualityMin {
		reasons = append(reasons, models.Reason{Metric: models.MetricAirQuality, Value: *s.AirQuality, Bound: AirQualityMin, Limit: models.LimitMin})
	}

	return models.AlertState{
		IsAbnormal: len(reasons) > 0,
		Reasons:    reasons,
	}
}

// Describe 生成报警通知文本，例如 "Temperature: 15°C, Humidity: 55%"
func Describe(state models.AlertState, s *models.SensorSnapshot) models.Notification {
	parts := make([]string, 0, len(state.Reasons))
	for _, r := range state.Reasons {
		parts = append(parts, FormatReason(r))
	}

	body := strings.Join(parts, ", ")
	if body == "" {
		body = fallbackBody
	}

	n := models.Notification{
		Title: AlertTitle,
		Body:  body,
		Tag:   AlertTag,
	}
	if s != nil {
		n.Data = SnapshotData(*s)
	}
	return n
}

// FormatReason 单个越界指标的展示文本
func FormatReason(r models.Reason) string {
	return fmt.Sprintf("%s: %s%s", Label(r.Metric), formatValue(r.Value), Unit(r.Metric))
}

// SnapshotData 推送负载中的 data 字段（FCM 要求字符串值）
func SnapshotData(s models.SensorSnapshot) map[string]string {
	data := make(map[string]string, 5)
	for _, metric := range models.Metrics {
		if v, ok := s.Value(metric); ok {
			data[metric] = formatValue(v)
		}
	}
	if s.Movement != nil {
		data["movement"] = s.Movement.String()
	}
	if s.ObservedAt != "" {
		data["last_time"] = s.ObservedAt
	}
	return data
}

// Label 指标显示名称
func Label(metric string) string {
	switch metric {
	case models.MetricTemperature:
		return "Temperature"
	case models.MetricHumidity:
		return "Humidity"
	case models.MetricAirQuality:
		return "Air Quality"
	default:
		return metric
	}
}

// Unit 指标单位
func Unit(metric string) string {
	if metric == models.MetricTemperature {
		return "°C"
	}
	return "%"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
