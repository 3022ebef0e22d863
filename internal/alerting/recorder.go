package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"hive-watch/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventBuilder 报警事件构建器
type EventBuilder struct {
	deviceID string
}

// NewEventBuilder 创建报警事件构建器
func NewEventBuilder(deviceID string) *EventBuilder {
	return &EventBuilder{deviceID: deviceID}
}

// Build 构建一条 active 报警事件
func (b *EventBuilder) Build(state models.AlertState, snapshot models.SensorSnapshot, at time.Time) (*models.AlertEvent, error) {
	reasons := state.Reasons
	if reasons == nil {
		reasons = []models.Reason{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reasons: %w", err)
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return &models.AlertEvent{
		EventID:     uuid.New().String(),
		DeviceID:    b.deviceID,
		Status:      models.AlertStatusActive,
		Reasons:     string(reasonsJSON),
		Snapshot:    string(snapshotJSON),
		TriggeredAt: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}, nil
}

// EventStore 报警事件持久化（repository.AlertEventsRepository 实现）
type EventStore interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
	ResolveAlertEvent(ctx context.Context, eventID string, resolvedAt time.Time) error
}

// EventPublisher 报警事件流（store.Store 实现，写入 Redis Stream）
type EventPublisher interface {
	PublishAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// EventRecorder 将报警开始/结束写入数据库和事件流
// store/publisher 任一为 nil 时跳过对应目标。
type EventRecorder struct {
	builder   *EventBuilder
	store     EventStore
	publisher EventPublisher
	logger    *zap.Logger

	mu     sync.Mutex
	active *models.AlertEvent
}

// NewEventRecorder 创建报警事件记录器
func NewEventRecorder(builder *EventBuilder, store EventStore, publisher EventPublisher, logger *zap.Logger) *EventRecorder {
	return &EventRecorder{
		builder:   builder,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// AlertStarted 记录一次报警开始
func (r *EventRecorder) AlertStarted(ctx context.Context, state models.AlertState, snapshot models.SensorSnapshot, at time.Time) {
	event, err := r.builder.Build(state, snapshot, at)
	if err != nil {
		r.logger.Error("Failed to build alert event", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.active = event
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.CreateAlertEvent(ctx, event); err != nil {
			r.logger.Error("Failed to save alert event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}
	r.publish(ctx, event)
}

// AlertCleared 将当前报警标记为 resolved
func (r *EventRecorder) AlertCleared(ctx context.Context, at time.Time) {
	r.mu.Lock()
	event := r.active
	r.active = nil
	r.mu.Unlock()

	if event == nil {
		return
	}

	resolved := *event
	resolved.Status = models.AlertStatusResolved
	resolved.ResolvedAt = &at
	resolved.UpdatedAt = at

	if r.store != nil {
		if err := r.store.ResolveAlertEvent(ctx, resolved.EventID, at); err != nil {
			r.logger.Error("Failed to resolve alert event",
				zap.String("event_id", resolved.EventID),
				zap.Error(err),
			)
		}
	}
	r.publish(ctx, &resolved)
}

// Active 当前未结束的报警事件
func (r *EventRecorder) Active() *models.AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	event := *r.active
	return &event
}

func (r *EventRecorder) publish(ctx context.Context, event *models.AlertEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishAlertEvent(ctx, event); err != nil {
		r.logger.Warn("Failed to publish alert event",
			zap.String("event_id", event.EventID),
			zap.String("status", event.Status),
			zap.Error(err),
		)
	}
}
