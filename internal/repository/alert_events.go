package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hive-watch/internal/models"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	// ErrAlertEventNotFound 报警事件不存在（或已经 resolved）
	ErrAlertEventNotFound = models.ErrAlertEventNotFound
	// ErrAlertEventExists event_id 重复
	ErrAlertEventExists = errors.New("alert event already exists")
)

const uniqueViolation = "23505"

// AlertEventsRepository 报警事件仓库（alert_events 表）
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertEventFilters 报警事件过滤条件
type AlertEventFilters struct {
	DeviceID  *string
	Statuses  []string   // status IN (...)
	StartTime *time.Time // triggered_at >= StartTime
	EndTime   *time.Time // triggered_at <= EndTime
}

// CreateAlertEvent 插入一条 active 报警事件
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil || event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if event.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO alert_events (
			event_id, device_id, status, reasons, snapshot,
			triggered_at, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.DeviceID,
		event.Status,
		jsonOrDefault(event.Reasons, "[]"),
		jsonOrDefault(event.Snapshot, "{}"),
		event.TriggeredAt,
		event.ResolvedAt,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: event_id=%s", ErrAlertEventExists, event.EventID)
		}
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	r.logger.Debug("Alert event created",
		zap.String("event_id", event.EventID),
		zap.String("device_id", event.DeviceID),
	)
	return nil
}

// ResolveAlertEvent 将 active 事件标记为 resolved
func (r *AlertEventsRepository) ResolveAlertEvent(ctx context.Context, eventID string, resolvedAt time.Time) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		UPDATE alert_events
		SET status = $2,
		    resolved_at = $3,
		    updated_at = $3
		WHERE event_id = $1
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		eventID,
		models.AlertStatusResolved,
		resolvedAt,
		models.AlertStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve alert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: event_id=%s", ErrAlertEventNotFound, eventID)
	}
	return nil
}

// ResolveStaleAlertEvents 启动时结束上次运行遗留的 active 事件，返回处理的行数
func (r *AlertEventsRepository) ResolveStaleAlertEvents(ctx context.Context, deviceID string, resolvedAt time.Time) (int64, error) {
	query := `
		UPDATE alert_events
		SET status = $2,
		    resolved_at = $3,
		    updated_at = $3
		WHERE device_id = $1
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		deviceID,
		models.AlertStatusResolved,
		resolvedAt,
		models.AlertStatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve stale alert events: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// GetAlertEvent 根据 event_id 获取报警事件
func (r *AlertEventsRepository) GetAlertEvent(ctx context.Context, eventID string) (*models.AlertEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT
			event_id,
			device_id,
			status,
			reasons,
			snapshot,
			triggered_at,
			resolved_at,
			created_at,
			updated_at
		FROM alert_events
		WHERE event_id = $1
	`

	event, err := scanAlertEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: event_id=%s", ErrAlertEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}
	return event, nil
}

// ListAlertEvents 按条件查询报警事件（triggered_at 降序）
func (r *AlertEventsRepository) ListAlertEvents(ctx context.Context, filters AlertEventFilters, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	var where []string
	var args []interface{}
	argN := 1

	if filters.DeviceID != nil && *filters.DeviceID != "" {
		where = append(where, fmt.Sprintf("device_id = $%d", argN))
		args = append(args, *filters.DeviceID)
		argN++
	}
	if len(filters.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY($%d)", argN))
		args = append(args, pq.Array(filters.Statuses))
		argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("triggered_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("triggered_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	query := `
		SELECT
			event_id,
			device_id,
			status,
			reasons,
			snapshot,
			triggered_at,
			resolved_at,
			created_at,
			updated_at
		FROM alert_events
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY triggered_at DESC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	events := []models.AlertEvent{}
	for rows.Next() {
		event, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, nil
}

// RecentAlertEvents 最近的报警事件（与 store.Store 的事件流接口一致）
func (r *AlertEventsRepository) RecentAlertEvents(ctx context.Context, count int64) ([]models.AlertEvent, error) {
	return r.ListAlertEvents(ctx, AlertEventFilters{}, int(count))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertEvent(row rowScanner) (*models.AlertEvent, error) {
	var event models.AlertEvent
	var reasons, snapshot []byte
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&event.EventID,
		&event.DeviceID,
		&event.Status,
		&reasons,
		&snapshot,
		&event.TriggeredAt,
		&resolvedAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, err
	}

	event.Reasons = string(reasons)
	event.Snapshot = string(snapshot)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		event.ResolvedAt = &t
	}
	return &event, nil
}

func jsonOrDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
