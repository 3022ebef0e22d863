package models

import (
	"errors"
	"time"
)

// ErrAlertEventNotFound 报警事件不存在
var ErrAlertEventNotFound = errors.New("alert event not found")

// 阈值方向
const (
	LimitMin = "min"
	LimitMax = "max"
)

// Reason 单个越界指标
type Reason struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Bound  float64 `json:"bound"`
	Limit  string  `json:"limit"` // min / max
}

// AlertState 报警状态（每个快照重新计算，不跨快照合并）
type AlertState struct {
	IsAbnormal bool     `json:"is_abnormal"`
	Reasons    []Reason `json:"reasons"`
}

// Notification 各通知渠道共用的负载
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tag   string            `json:"tag,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
	// RequireInteraction 本地通知保持显示直到用户处理
	RequireInteraction bool `json:"require_interaction,omitempty"`
}

// 通知权限（与浏览器 Notification.permission 取值一致）
const (
	PermissionDefault = "default"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// NotificationPreferences 通知偏好（显式传递，不使用全局状态）
type NotificationPreferences struct {
	Enabled    bool   `json:"enabled"`
	Permission string `json:"permission"`
}

// ValidPermission 检查权限取值
func ValidPermission(p string) bool {
	switch p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return true
	}
	return false
}

// Granted 是否可以使用本地通知与推送
func (p NotificationPreferences) Granted() bool {
	return p.Enabled && p.Permission == PermissionGranted
}

// 报警事件状态
const (
	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"
)

// AlertEvent 报警事件（对应 alert_events 表，一次 Idle→Alerting 记录一行）
type AlertEvent struct {
	EventID     string     `json:"event_id" db:"event_id"`
	DeviceID    string     `json:"device_id" db:"device_id"`
	Status      string     `json:"status" db:"status"`
	Reasons     string     `json:"reasons" db:"reasons"`   // JSONB
	Snapshot    string     `json:"snapshot" db:"snapshot"` // JSONB
	TriggeredAt time.Time  `json:"triggered_at" db:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ToastDestructive 错误提示样式
const ToastDestructive = "destructive"

// Toast 应用内提示（由展示层渲染）
type Toast struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
}
