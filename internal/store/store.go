package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hive-watch/internal/models"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	// ErrNotFound 节点不存在或为空
	ErrNotFound = errors.New("node not found")
	// ErrInvalidToken 推送 token 为空
	ErrInvalidToken = errors.New("invalid push token")
)

// alertStreamMaxLen 报警事件流保留的近似条数
const alertStreamMaxLen = 1000

// Keys 数据存储中使用的键
type Keys struct {
	Live        string // 实时节点（JSON 字符串）
	Updates     string // 实时节点变更的 pub/sub 频道
	History     string // 历史数据 hash：observed_at -> JSON 快照
	Tokens      string // 推送 token hash：净化后的 token -> 原始 token
	AlertStream string // 报警事件流
}

// Store 实时数据存储（Redis）
type Store struct {
	client *redis.Client
	keys   Keys
	logger *zap.Logger
}

// NewStore 创建数据存储
func NewStore(client *redis.Client, keys Keys, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		keys:   keys,
		logger: logger,
	}
}

// Live 读取实时节点，不存在或为空时返回 ErrNotFound
func (s *Store) Live(ctx context.Context) (*models.SensorSnapshot, error) {
	data, err := s.client.Get(ctx, s.keys.Live).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get live node: %w", err)
	}
	return decodeSnapshot(data)
}

// PublishSnapshot 写入实时节点并通知订阅者
func (s *Store) PublishSnapshot(ctx context.Context, snapshot models.SensorSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.Live, data, 0)
		pipe.Publish(ctx, s.keys.Updates, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// ClearLive 删除实时节点并通知订阅者（订阅者收到空快照）
func (s *Store) ClearLive(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.Live)
		pipe.Publish(ctx, s.keys.Updates, "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear live node: %w", err)
	}
	return nil
}

// ArchiveSnapshot 写入历史节点
func (s *Store) ArchiveSnapshot(ctx context.Context, key string, snapshot models.SensorSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.HSet(ctx, s.keys.History, key, data).Err(); err != nil {
		return fmt.Errorf("failed to archive snapshot: %w", err)
	}
	return nil
}

// ReadHistory 一次性读取历史节点（节点不存在时返回空序列）
// 无法解析的记录会被跳过，不影响其他记录。
func (s *Store) ReadHistory(ctx context.Context) (models.HistoricalSeries, error) {
	raw, err := s.client.HGetAll(ctx, s.keys.History).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	series := make(models.HistoricalSeries, len(raw))
	for key, value := range raw {
		snapshot, err := decodeSnapshot([]byte(value))
		if err != nil {
			s.logger.Warn("Skipping malformed history entry",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		series[key] = *snapshot
	}
	return series, nil
}

// RegisterToken 注册推送 token，返回注册表中的键
func (s *Store) RegisterToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	key := TokenKey(token)
	if err := s.client.HSet(ctx, s.keys.Tokens, key, token).Err(); err != nil {
		return "", fmt.Errorf("failed to register token: %w", err)
	}
	return key, nil
}

// Tokens 读取所有推送 token（按键排序）
func (s *Store) Tokens(ctx context.Context) ([]string, error) {
	raw, err := s.client.HGetAll(ctx, s.keys.Tokens).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, raw[k])
	}
	return tokens, nil
}

// PublishAlertEvent 写入报警事件流
func (s *Store) PublishAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if _, err := PublishJSONToStream(ctx, s.client, s.keys.AlertStream, alertStreamMaxLen, event); err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}
	return nil
}

// RecentAlertEvents 读取最近的报警事件（最新的在前）
func (s *Store) RecentAlertEvents(ctx context.Context, count int64) ([]models.AlertEvent, error) {
	messages, err := ReadLatestFromStream(ctx, s.client, s.keys.AlertStream, count)
	if err != nil {
		return nil, err
	}

	events := make([]models.AlertEvent, 0, len(messages))
	for _, msg := range messages {
		if event, ok := s.decodeAlertEvent(msg); ok {
			events = append(events, *event)
		}
	}
	return events, nil
}

// GetAlertEvent 在事件流中查找 event_id 的最新状态
func (s *Store) GetAlertEvent(ctx context.Context, eventID string) (*models.AlertEvent, error) {
	messages, err := ReadLatestFromStream(ctx, s.client, s.keys.AlertStream, alertStreamMaxLen)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if event, ok := s.decodeAlertEvent(msg); ok && event.EventID == eventID {
			return event, nil
		}
	}
	return nil, fmt.Errorf("%w: event_id=%s", models.ErrAlertEventNotFound, eventID)
}

func (s *Store) decodeAlertEvent(msg StreamMessage) (*models.AlertEvent, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var event models.AlertEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		s.logger.Warn("Skipping malformed alert event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil, false
	}
	return &event, true
}

// decodeSnapshot 解析快照，空值与 JSON null 视为节点为空
func decodeSnapshot(data []byte) (*models.SensorSnapshot, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrNotFound
	}
	var snapshot models.SensorSnapshot
	if err := json.Unmarshal([]byte(trimmed), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}
