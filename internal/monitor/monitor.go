package monitor

import (
	"context"
	"errors"
	"fmt"
	"hive-watch/internal/alerting"
	"hive-watch/internal/clock"
	"hive-watch/internal/evaluator"
	"hive-watch/internal/history"
	"hive-watch/internal/metrics"
	"hive-watch/internal/models"
	"hive-watch/internal/status"
	"hive-watch/internal/store"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped 监控循环已经退出
var ErrStopped = errors.New("monitor stopped")

// 错误提示文本
const (
	connectionErrorTitle = "Connection Error"
	connectionErrorBody  = "Unable to connect to the data store"
	dataErrorTitle       = "Data Error"
	dataErrorBody        = "Could not load historical data"
)

// Source 实时数据源（store.Store 实现）
type Source interface {
	Subscribe(ctx context.Context) (*store.Subscription, error)
	ReadHistory(ctx context.Context) (models.HistoricalSeries, error)
}

// Presenter 展示层（hub.Hub 实现），可以为 nil
type Presenter interface {
	ShowToast(t models.Toast) error
	PublishView(view interface{}) error
}

// View 展示层读取的派生状态
type View struct {
	Current       *models.SensorSnapshot         `json:"current"`
	IsOnline      bool                           `json:"is_online"`
	LastSeen      *time.Time                     `json:"last_seen,omitempty"`
	Loading       bool                           `json:"loading"`
	Alert         models.AlertState              `json:"alert"`
	AlertPhase    string                         `json:"alert_phase"`
	Notifications models.NotificationPreferences `json:"notifications"`
	HistorySize   int                            `json:"history_size"`
}

// Options 监控参数
type Options struct {
	TickInterval     time.Duration
	OfflineThreshold time.Duration
	InitialOnline    bool
	SampleInterval   time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		TickInterval:     status.DefaultTickInterval,
		OfflineThreshold: status.DefaultOfflineThreshold,
		InitialOnline:    true,
		SampleInterval:   history.DefaultSampleInterval,
	}
}

// Monitor 实时数据订阅与派生状态
//
// Run 在单个 goroutine 中处理所有事件（快照、错误、历史回填、状态 tick、
// 重复提醒 tick、偏好更新），派生状态只在该 goroutine 中修改。
// 其他 goroutine 通过 View()/History() 读取。
type Monitor struct {
	source     Source
	dispatcher *alerting.Dispatcher
	presenter  Presenter
	clock      clock.Clock
	opts       Options
	logger     *zap.Logger

	series  *history.Series
	prefsCh chan models.NotificationPreferences
	done    chan struct{}

	mu   sync.RWMutex
	view View
}

// NewMonitor 创建监控器
// dispatcher 的生命周期归 Monitor 所有：Run 返回前会调用 dispatcher.Stop()。
func NewMonitor(
	source Source,
	dispatcher *alerting.Dispatcher,
	presenter Presenter,
	clk clock.Clock,
	opts Options,
	logger *zap.Logger,
) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = status.DefaultTickInterval
	}
	return &Monitor{
		source:     source,
		dispatcher: dispatcher,
		presenter:  presenter,
		clock:      clk,
		opts:       opts,
		logger:     logger,
		series:     history.NewSeries(),
		prefsCh:    make(chan models.NotificationPreferences, 1),
		done:       make(chan struct{}),
		view: View{
			IsOnline:      opts.InitialOnline,
			Loading:       true,
			Alert:         models.AlertState{Reasons: []models.Reason{}},
			AlertPhase:    alerting.StateIdle,
			Notifications: dispatcher.Preferences(),
		},
	}
}

// View 当前派生状态的拷贝
func (m *Monitor) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// History 历史序列（内部加锁，可并发读取）
func (m *Monitor) History() *history.Series {
	return m.series
}

// SetPreferences 更新通知偏好，由事件循环应用
func (m *Monitor) SetPreferences(ctx context.Context, prefs models.NotificationPreferences) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.prefsCh <- prefs:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 启动订阅并处理事件，直到 ctx 取消
// 返回前关闭订阅、停止状态定时器与重复提醒定时器。
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.dispatcher.Stop()

	now := m.clock.Now()
	l := &loop{
		Monitor: m,
		tracker: status.NewTracker(m.opts.OfflineThreshold, m.opts.InitialOnline, now),
		sampler: history.NewSampler(m.series, m.opts.SampleInterval, now),
		loading: true,
	}

	sub, err := m.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to live node: %w", err)
	}
	defer sub.Close()

	statusTicker := m.clock.NewTicker(m.opts.TickInterval)
	defer statusTicker.Stop()

	// 历史回填与订阅并发进行，只执行一次
	backfill := make(chan backfillResult, 1)
	go func() {
		series, err := m.source.ReadHistory(ctx)
		backfill <- backfillResult{series: series, err: err}
	}()

	m.logger.Info("Monitor started",
		zap.Duration("tick_interval", m.opts.TickInterval),
		zap.Duration("offline_threshold", m.opts.OfflineThreshold),
		zap.Duration("sample_interval", m.opts.SampleInterval),
	)
	l.publish()

	updates := sub.Updates()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return nil

		case snapshot, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			l.onSnapshot(ctx, snapshot)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.onError(err)

		case res := <-backfill:
			backfill = nil
			l.onBackfill(res)

		case <-statusTicker.C():
			l.onStatusTick()

		case <-m.dispatcher.Tick():
			m.dispatcher.OnTick(ctx)

		case prefs := <-m.prefsCh:
			m.dispatcher.SetPreferences(prefs)
			m.logger.Info("Notification preferences updated",
				zap.Bool("enabled", prefs.Enabled),
				zap.String("permission", prefs.Permission),
			)
			l.publish()
		}
	}
}

type backfillResult struct {
	series models.HistoricalSeries
	err    error
}

// loop 事件循环内部状态（只在 Run 的 goroutine 中访问）
type loop struct {
	*Monitor
	tracker    *status.Tracker
	sampler    *history.Sampler
	current    *models.SensorSnapshot
	alert      models.AlertState
	loading    bool
	errorShown bool // 本次连接中断是否已经提示过
}

func (l *loop) onSnapshot(ctx context.Context, snapshot *models.SensorSnapshot) {
	l.loading = false
	l.errorShown = false

	if snapshot == nil {
		metrics.SnapshotsReceived.WithLabelValues("empty").Inc()
		l.publish()
		return
	}
	metrics.SnapshotsReceived.WithLabelValues("snapshot").Inc()

	now := l.clock.Now()
	l.current = snapshot
	l.tracker.OnSnapshotArrived(now)

	if key, ok := l.sampler.MaybeSample(*snapshot, now); ok {
		metrics.SamplesRecorded.Inc()
		l.logger.Debug("History sample recorded", zap.String("key", key))
	}

	l.alert = evaluator.Evaluate(*snapshot)
	l.dispatcher.OnAlertStateChanged(ctx, l.alert, snapshot)
	l.publish()
}

func (l *loop) onError(err error) {
	metrics.SubscriptionErrors.Inc()
	l.loading = false
	l.tracker.MarkOffline()

	l.logger.Error("Live data subscription error", zap.Error(err))
	if !l.errorShown {
		l.errorShown = true
		l.toast(connectionErrorTitle, connectionErrorBody)
	}
	l.publish()
}

func (l *loop) onBackfill(res backfillResult) {
	if res.err != nil {
		// 回填失败：历史保持为空（或只有本次会话的采样），不重试
		l.logger.Error("Failed to load history", zap.Error(res.err))
		l.toast(dataErrorTitle, dataErrorBody)
		return
	}
	l.series.Seed(res.series)
	l.logger.Info("History loaded",
		zap.Int("entry_count", len(res.series)),
		zap.Int("series_size", l.series.Len()),
	)
	l.publish()
}

func (l *loop) onStatusTick() {
	before := l.tracker.Status().IsOnline
	st := l.tracker.OnTick(l.clock.Now())
	if before && !st.IsOnline {
		l.logger.Warn("Device went offline", zap.Duration("offline_threshold", l.opts.OfflineThreshold))
		l.publish()
	}
}

func (l *loop) toast(title, description string) {
	if l.presenter == nil {
		return
	}
	if err := l.presenter.ShowToast(models.Toast{
		Title:       title,
		Description: description,
		Variant:     models.ToastDestructive,
	}); err != nil {
		l.logger.Warn("Failed to show toast", zap.String("title", title), zap.Error(err))
	}
}

// publish 生成新的视图，供 HTTP 读取并推送给展示层
func (l *loop) publish() {
	st := l.tracker.Status()
	alert := l.alert
	if alert.Reasons == nil {
		alert.Reasons = []models.Reason{}
	}
	view := View{
		Current:       l.current,
		IsOnline:      st.IsOnline,
		LastSeen:      st.LastSeen,
		Loading:       l.loading,
		Alert:         alert,
		AlertPhase:    l.dispatcher.State(),
		Notifications: l.dispatcher.Preferences(),
		HistorySize:   l.series.Len(),
	}

	l.mu.Lock()
	l.view = view
	l.mu.Unlock()

	metrics.DeviceOnline.Set(metrics.Bool(st.IsOnline))
	metrics.HistorySize.Set(float64(view.HistorySize))

	if l.presenter != nil {
		if err := l.presenter.PublishView(view); err != nil {
			l.logger.Debug("Failed to publish view", zap.Error(err))
		}
	}
}
