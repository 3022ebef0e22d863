package httpapi

import (
	"context"
	"errors"
	"fmt"
	"hive-watch/internal/clock"
	"hive-watch/internal/history"
	"hive-watch/internal/models"
	"hive-watch/internal/monitor"
	"hive-watch/internal/store"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// 推送注册失败提示
const (
	pushErrorTitle = "Push Error"
	pushErrorBody  = "Failed to register for push notifications"
)

const (
	defaultAlertCount = 20
	maxAlertCount     = 200
)

// MonitorView 监控器的读接口（monitor.Monitor 实现）
type MonitorView interface {
	View() monitor.View
	History() *history.Series
	SetPreferences(ctx context.Context, prefs models.NotificationPreferences) error
}

// TokenRegistry 推送 token 注册表（store.Store 实现）
type TokenRegistry interface {
	RegisterToken(ctx context.Context, token string) (string, error)
}

// AlertLog 报警事件查询（store.Store 或 repository.AlertEventsRepository 实现）
type AlertLog interface {
	RecentAlertEvents(ctx context.Context, count int64) ([]models.AlertEvent, error)
	GetAlertEvent(ctx context.Context, eventID string) (*models.AlertEvent, error)
}

// Toaster 应用内提示（hub.Hub 实现）
type Toaster interface {
	ShowToast(t models.Toast) error
}

// Handler 展示层 HTTP 接口
type Handler struct {
	monitor  MonitorView
	tokens   TokenRegistry
	alerts   AlertLog
	toaster  Toaster
	clock    clock.Clock
	location *time.Location
	logger   *zap.Logger
}

// NewHandler 创建 Handler
// alerts、toaster 可以为 nil；loc 为坐标轴标签与导出使用的时区
func NewHandler(
	m MonitorView,
	tokens TokenRegistry,
	alerts AlertLog,
	toaster Toaster,
	clk clock.Clock,
	loc *time.Location,
	logger *zap.Logger,
) *Handler {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		monitor:  m,
		tokens:   tokens,
		alerts:   alerts,
		toaster:  toaster,
		clock:    clk,
		location: loc,
		logger:   logger,
	}
}

// GetView 当前派生状态
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.monitor.View()))
}

// HistoryResponse 图表数据
type HistoryResponse struct {
	Metric string          `json:"metric"`
	Range  string          `json:"range"`
	Points []history.Point `json:"points"`
	Labels []string        `json:"labels"`
}

// GetHistory 按指标与时间范围查询历史
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	rng, err := history.ParseRange(queryOr(r, "range", string(history.Range24H)))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	points, err := h.monitor.History().Query(metric, rng, h.clock.Now())
	if err != nil {
		if errors.Is(err, history.ErrUnknownMetric) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("History query failed", zap.String("metric", metric), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to query history: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(HistoryResponse{
		Metric: metric,
		Range:  string(rng),
		Points: points,
		Labels: history.AxisLabels(points, rng, h.location),
	}))
}

// ExportHistory 导出历史数据为 Excel
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := history.ParseRange(queryOr(r, "range", string(history.Range24H)))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	entries, err := h.monitor.History().Entries(rng, h.clock.Now())
	if err != nil {
		h.logger.Error("History entries failed for export", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list history: %v", err)))
		return
	}

	excelData, err := GenerateHistoryExport(entries, h.location)
	if err != nil {
		h.logger.Error("GenerateHistoryExport failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=beehive-history-%s.xlsx", rng))
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}

type registerTokenRequest struct {
	Token string `json:"token"`
}

// RegisterToken 注册推送 token
// 失败时向展示层提示，报警流程不受影响
func (h *Handler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.pushError(err)
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	key, err := h.tokens.RegisterToken(r.Context(), req.Token)
	if err != nil {
		h.pushError(err)
		if errors.Is(err, store.ErrInvalidToken) {
			writeJSON(w, http.StatusBadRequest, Fail("token is required"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to register token: %v", err)))
		return
	}

	h.logger.Info("Push token registered", zap.String("token_key", key))
	writeJSON(w, http.StatusOK, Ok(map[string]any{"key": key}))
}

// pushError 推送注册失败提示
// toast 通过 hub 广播给所有连接的客户端，单用户看板下即为当前用户。
func (h *Handler) pushError(err error) {
	h.logger.Warn("Push registration failed", zap.Error(err))
	if h.toaster == nil {
		return
	}
	if terr := h.toaster.ShowToast(models.Toast{
		Title:       pushErrorTitle,
		Description: pushErrorBody,
		Variant:     models.ToastDestructive,
	}); terr != nil {
		h.logger.Debug("Failed to show toast", zap.Error(terr))
	}
}

// UpdatePreferences 更新通知偏好（展示层上报权限结果）
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.NotificationPreferences
	if err := readBodyJSON(r, maxBodyBytes, &prefs); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if prefs.Permission == "" {
		prefs.Permission = models.PermissionDefault
	}
	if !models.ValidPermission(prefs.Permission) {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid permission: %q", prefs.Permission)))
		return
	}

	if err := h.monitor.SetPreferences(r.Context(), prefs); err != nil {
		h.logger.Error("SetPreferences failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Fail(fmt.Sprintf("failed to update preferences: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(prefs))
}

// ListAlerts 最近的报警事件
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeJSON(w, http.StatusOK, Ok([]models.AlertEvent{}))
		return
	}

	count := parseInt(r.URL.Query().Get("count"), defaultAlertCount)
	if count <= 0 || count > maxAlertCount {
		count = defaultAlertCount
	}

	events, err := h.alerts.RecentAlertEvents(r.Context(), int64(count))
	if err != nil {
		h.logger.Error("RecentAlertEvents failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list alerts: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(events))
}

// GetAlert 单个报警事件
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	if h.alerts == nil {
		writeJSON(w, http.StatusNotFound, Fail(fmt.Sprintf("alert event not found: %s", eventID)))
		return
	}

	event, err := h.alerts.GetAlertEvent(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, models.ErrAlertEventNotFound) {
			writeJSON(w, http.StatusNotFound, Fail(fmt.Sprintf("alert event not found: %s", eventID)))
			return
		}
		h.logger.Error("GetAlertEvent failed", zap.String("event_id", eventID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to get alert: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

func queryOr(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		return v
	}
	return def
}
