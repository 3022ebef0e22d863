package history

import (
	"hive-watch/internal/models"
	"time"
)

// DefaultSampleInterval 每分钟最多记录一条
const DefaultSampleInterval = 60 * time.Second

// Sampler 对无界的更新流做降采样
type Sampler struct {
	series        *Series
	interval      time.Duration
	lastSampledAt time.Time
}

// NewSampler 创建降采样器，lastSampledAt 初始化为创建时间
// series 为 nil 时只做节流判断，由调用方自行持久化（见 consumer.MQTTConsumer）
func NewSampler(series *Series, interval time.Duration, now time.Time) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		series:        series,
		interval:      interval,
		lastSampledAt: now,
	}
}

// MaybeSample 距离上次记录超过间隔时写入序列，返回写入的时间键
// 未写入的快照仍然是"当前读数"，只是不进入历史。
func (s *Sampler) MaybeSample(snapshot models.SensorSnapshot, now time.Time) (string, bool) {
	if now.Sub(s.lastSampledAt) < s.interval {
		return "", false
	}

	key := Key(snapshot, now)
	if s.series != nil {
		s.series.Put(key, snapshot)
	}
	s.lastSampledAt = now
	return key, true
}

// Key 历史记录的时间键：优先使用设备时间，缺失时使用接收时间
func Key(snapshot models.SensorSnapshot, now time.Time) string {
	if snapshot.ObservedAt != "" {
		return snapshot.ObservedAt
	}
	return models.FormatTimestamp(now)
}
