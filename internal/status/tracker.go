package status

import (
	"hive-watch/internal/models"
	"time"
)

// 默认参数
const (
	DefaultTickInterval     = 10 * time.Second
	DefaultOfflineThreshold = 60 * time.Second
)

// Tracker 设备在线状态跟踪（到达时间模型）
//
// 在线判断只依赖客户端收到快照的时间，不使用设备上报的 last_time，
// 因此不受设备与客户端之间时钟偏差影响。
// 尚未收到任何快照时，以 Tracker 创建时间作为参考点计算超时。
type Tracker struct {
	threshold time.Duration
	startedAt time.Time
	online    bool
	lastSeen  *time.Time
}

// NewTracker 创建状态跟踪器
// initialOnline: 尚未收到快照时的初始状态（默认乐观为 true）
func NewTracker(threshold time.Duration, initialOnline bool, now time.Time) *Tracker {
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	return &Tracker{
		threshold: threshold,
		startedAt: now,
		online:    initialOnline,
	}
}

// OnSnapshotArrived 收到快照：标记在线并记录 lastSeen
func (t *Tracker) OnSnapshotArrived(now time.Time) models.DeviceStatus {
	seen := now
	t.lastSeen = &seen
	t.online = true
	return t.Status()
}

// OnTick 周期性检查：超过阈值未收到快照则标记离线（tick 只会标记离线）
func (t *Tracker) OnTick(now time.Time) models.DeviceStatus {
	ref := t.startedAt
	if t.lastSeen != nil {
		ref = *t.lastSeen
	}
	if t.online && now.Sub(ref) > t.threshold {
		t.online = false
	}
	return t.Status()
}

// MarkOffline 订阅出错时直接标记离线
func (t *Tracker) MarkOffline() models.DeviceStatus {
	t.online = false
	return t.Status()
}

// Status 当前状态
func (t *Tracker) Status() models.DeviceStatus {
	st := models.DeviceStatus{IsOnline: t.online}
	if t.lastSeen != nil {
		seen := *t.lastSeen
		st.LastSeen = &seen
	}
	return st
}
