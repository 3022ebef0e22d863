package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"hive-watch/internal/clock"
	"hive-watch/internal/history"
	"hive-watch/internal/metrics"
	"hive-watch/internal/models"
	"hive-watch/internal/mqtt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅（mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// SnapshotWriter 实时节点与历史写入（store.Store 实现）
type SnapshotWriter interface {
	PublishSnapshot(ctx context.Context, snapshot models.SensorSnapshot) error
	ClearLive(ctx context.Context) error
	ArchiveSnapshot(ctx context.Context, key string, snapshot models.SensorSnapshot) error
}

// MQTTConsumer 设备桥接：MQTT 快照 -> 实时节点 + 历史
type MQTTConsumer struct {
	subscriber Subscriber
	writer     SnapshotWriter
	topic      string
	qos        byte
	clock      clock.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	sampler *history.Sampler
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	subscriber Subscriber,
	writer SnapshotWriter,
	topic string,
	qos byte,
	sampleInterval time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *MQTTConsumer {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MQTTConsumer{
		subscriber: subscriber,
		writer:     writer,
		topic:      topic,
		qos:        qos,
		clock:      clk,
		logger:     logger,
		sampler:    history.NewSampler(nil, sampleInterval, clk.Now()),
	}
}

// Start 订阅快照主题，阻塞直到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, func(topic string, payload []byte) error {
		return c.handleMessage(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to snapshot topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条设备快照
// 主题格式: beehive/{device}/snapshot；空消息或 null 表示清空实时节点
func (c *MQTTConsumer) handleMessage(ctx context.Context, topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		metrics.BridgeMessages.WithLabelValues("invalid").Inc()
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	device := parts[1]

	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		if err := c.writer.ClearLive(ctx); err != nil {
			metrics.BridgeMessages.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to clear live node: %w", err)
		}
		metrics.BridgeMessages.WithLabelValues("cleared").Inc()
		c.logger.Info("Live node cleared", zap.String("device", device))
		return nil
	}

	var snapshot models.SensorSnapshot
	if err := json.Unmarshal([]byte(trimmed), &snapshot); err != nil {
		metrics.BridgeMessages.WithLabelValues("invalid").Inc()
		c.logger.Error("Failed to unmarshal MQTT message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	now := c.clock.Now()
	if snapshot.ObservedAt == "" {
		snapshot.ObservedAt = models.FormatTimestamp(now)
	}

	if err := c.writer.PublishSnapshot(ctx, snapshot); err != nil {
		metrics.BridgeMessages.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	c.mu.Lock()
	key, sampled := c.sampler.MaybeSample(snapshot, now)
	c.mu.Unlock()

	if sampled {
		if err := c.writer.ArchiveSnapshot(ctx, key, snapshot); err != nil {
			// 实时节点已经写入，历史缺一条不影响报警
			c.logger.Error("Failed to archive snapshot",
				zap.String("key", key),
				zap.Error(err),
			)
		} else {
			metrics.SamplesRecorded.Inc()
		}
	}

	metrics.BridgeMessages.WithLabelValues("ok").Inc()
	c.logger.Debug("Snapshot published",
		zap.String("device", device),
		zap.String("observed_at", snapshot.ObservedAt),
		zap.Bool("archived", sampled),
	)
	return nil
}
