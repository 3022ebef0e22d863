package history

import (
	"errors"
	"fmt"
	"hive-watch/internal/models"
	"sort"
	"time"
)

var (
	ErrUnknownMetric = errors.New("unknown metric")
	ErrUnknownRange  = errors.New("unknown time range")
)

// Range 图表时间范围
type Range string

const (
	RangeLive Range = "live"
	Range1H   Range = "1h"
	Range24H  Range = "24h"
	Range7D   Range = "7d"
	Range15D  Range = "15d"
	Range30D  Range = "30d"
)

// LivePoints live 模式展示的最近点数
const LivePoints = 20

const day = 24 * time.Hour

var windows = map[Range]time.Duration{
	Range1H:  time.Hour,
	Range24H: day,
	Range7D:  7 * day,
	Range15D: 15 * day,
	Range30D: 30 * day,
}

// ParseRange 解析查询参数
func ParseRange(s string) (Range, error) {
	r := Range(s)
	if r == RangeLive {
		return r, nil
	}
	if _, ok := windows[r]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRange, s)
}

// ValidMetric 检查指标名称
func ValidMetric(metric string) error {
	for _, m := range models.Metrics {
		if m == metric {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
}

// Point 图表数据点
type Point struct {
	Label     string    `json:"label"` // 原始时间键
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Query 按指标与时间范围查询，返回按时间升序排列的数据点
// 窗口从查询时刻 now 开始往前计算，而不是从最后一个数据点。
func (s *Series) Query(metric string, r Range, now time.Time) ([]Point, error) {
	if err := ValidMetric(metric); err != nil {
		return nil, err
	}
	window, ok := windows[r]
	if !ok && r != RangeLive {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRange, r)
	}

	points := s.points(metric)

	if r == RangeLive {
		if len(points) > LivePoints {
			points = points[len(points)-LivePoints:]
		}
		return points, nil
	}

	filtered := points[:0]
	for _, p := range points {
		if now.Sub(p.Timestamp) <= window {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Entry 完整的一条历史记录（导出使用）
type Entry struct {
	Key       string
	Timestamp time.Time
	Snapshot  models.SensorSnapshot
}

// Entries 返回时间范围内的完整记录（按时间升序）
func (s *Series) Entries(r Range, now time.Time) ([]Entry, error) {
	window, ok := windows[r]
	if !ok && r != RangeLive {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRange, r)
	}

	s.mu.RLock()
	entries := make([]Entry, 0, len(s.entries))
	for key, snapshot := range s.entries {
		ts, err := models.ParseTimestamp(key)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Key: key, Timestamp: ts, Snapshot: snapshot})
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	if r == RangeLive {
		if len(entries) > LivePoints {
			entries = entries[len(entries)-LivePoints:]
		}
		return entries, nil
	}

	filtered := entries[:0]
	for _, e := range entries {
		if now.Sub(e.Timestamp) <= window {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// points 取出包含该指标的所有数据点并排序（插入顺序不保证时间顺序）
func (s *Series) points(metric string) []Point {
	s.mu.RLock()
	points := make([]Point, 0, len(s.entries))
	for key, snapshot := range s.entries {
		v, ok := snapshot.Value(metric)
		if !ok {
			continue
		}
		ts, err := models.ParseTimestamp(key)
		if err != nil {
			continue
		}
		points = append(points, Point{Label: key, Timestamp: ts, Value: v})
	}
	s.mu.RUnlock()

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Timestamp.Equal(points[j].Timestamp) {
			return points[i].Label < points[j].Label
		}
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// labelEvery 各范围的坐标轴标签密度（约多少个标签）
var labelEvery = map[Range]int{
	Range1H:  6,
	Range24H: 8,
	Range7D:  7,
	Range15D: 5,
	Range30D: 4,
}

// AxisLabels 生成图表横轴标签（稀疏显示，其余为空字符串）
// live/1h/24h 显示 "15:04"，按天的范围显示 "Jan 2"。
func AxisLabels(points []Point, r Range, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	labels := make([]string, len(points))
	if len(points) == 0 {
		return labels
	}

	step := 1
	if n, ok := labelEvery[r]; ok {
		step = len(points) / n
		if step < 1 {
			step = 1
		}
	}

	layout := "15:04"
	switch r {
	case Range7D, Range15D, Range30D:
		layout = "Jan 2"
	}

	for i, p := range points {
		if i%step == 0 {
			labels[i] = p.Timestamp.In(loc).Format(layout)
		}
	}
	return labels
}
