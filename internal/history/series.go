package history

import (
	"hive-watch/internal/models"
	"sync"
)

// Series 内存中的历史序列（observed_at -> 快照）
//
// 写入只来自 Sampler 与一次性的 backfill（都在 monitor 的事件循环中），
// 读取来自 HTTP 处理器，所以用读写锁保护。
type Series struct {
	mu      sync.RWMutex
	entries models.HistoricalSeries
}

// NewSeries 创建空序列
func NewSeries() *Series {
	return &Series{entries: make(models.HistoricalSeries)}
}

// Put 写入一条记录（相同时间键直接覆盖）
func (s *Series) Put(key string, snapshot models.SensorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = snapshot
}

// Seed 合并存储中的历史数据（存储优先：相同时间键覆盖内存中的记录）
func (s *Series) Seed(backfill models.HistoricalSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, snapshot := range backfill {
		s.entries[key] = snapshot
	}
}

// Len 记录数
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot 返回当前序列的拷贝
func (s *Series) Snapshot() models.HistoricalSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(models.HistoricalSeries, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
