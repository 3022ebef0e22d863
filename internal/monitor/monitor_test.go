package monitor

import (
	"context"
	"errors"
	"hive-watch/internal/alerting"
	"hive-watch/internal/clock"
	"hive-watch/internal/history"
	"hive-watch/internal/models"
	"hive-watch/internal/store"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

type fakeSource struct {
	updates chan *models.SensorSnapshot
	errs    chan error
	history models.HistoricalSeries
	histErr error
	release chan struct{} // 非 nil 时 ReadHistory 等待关闭

	mu     sync.Mutex
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		updates: make(chan *models.SensorSnapshot),
		errs:    make(chan error),
	}
}

func (s *fakeSource) Subscribe(ctx context.Context) (*store.Subscription, error) {
	return store.NewSubscription(s.updates, s.errs, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		return nil
	}), nil
}

func (s *fakeSource) ReadHistory(ctx context.Context) (models.HistoricalSeries, error) {
	if s.release != nil {
		<-s.release
	}
	return s.history, s.histErr
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakePresenter struct {
	mu     sync.Mutex
	toasts []models.Toast
	views  int
}

func (p *fakePresenter) ShowToast(t models.Toast) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toasts = append(p.toasts, t)
	return nil
}

func (p *fakePresenter) ShowNotification(n models.Notification) error { return nil }

func (p *fakePresenter) PublishView(view interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views++
	return nil
}

func (p *fakePresenter) titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.toasts))
	for _, t := range p.toasts {
		out = append(out, t.Title)
	}
	return out
}

type harness struct {
	source    *fakeSource
	presenter *fakePresenter
	clock     *clock.Fake
	monitor   *Monitor
	cancel    context.CancelFunc
	done      chan error
}

func start(t *testing.T, source *fakeSource, opts Options) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	presenter := &fakePresenter{}
	dispatcher := alerting.NewDispatcher(
		alerting.DefaultChannels(presenter, nil),
		models.NotificationPreferences{},
		alerting.DefaultRepeatInterval,
		clk,
		nil,
		zap.NewNop(),
	)
	m := NewMonitor(source, dispatcher, presenter, clk, opts, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{source: source, presenter: presenter, clock: clk, monitor: m, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- m.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })

	// 等待状态定时器创建，保证后续推进时钟能触发 tick
	require.Eventually(t, func() bool { return clk.Tickers() >= 1 }, waitFor, pollEvery)
	return h
}

func (h *harness) stop(t *testing.T) {
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(waitFor):
		t.Fatal("monitor did not stop")
	}
}

func (h *harness) send(s *models.SensorSnapshot) {
	h.source.updates <- s
}

func reading(temp, humidity, air float64) *models.SensorSnapshot {
	return &models.SensorSnapshot{
		Temperature: models.Float(temp),
		Humidity:    models.Float(humidity),
		AirQuality:  models.Float(air),
	}
}

func TestMonitor_InitialView(t *testing.T) {
	source := newFakeSource()
	source.release = make(chan struct{})
	defer close(source.release)
	h := start(t, source, DefaultOptions())

	v := h.monitor.View()
	assert.True(t, v.Loading)
	assert.True(t, v.IsOnline)
	assert.Nil(t, v.Current)
	assert.Equal(t, alerting.StateIdle, v.AlertPhase)
}

func TestMonitor_SnapshotUpdatesView(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	h.clock.Add(3 * time.Second)
	h.send(reading(22, 70, 85))

	require.Eventually(t, func() bool { return h.monitor.View().Current != nil }, waitFor, pollEvery)
	v := h.monitor.View()
	assert.False(t, v.Loading)
	assert.True(t, v.IsOnline)
	require.NotNil(t, v.LastSeen)
	assert.Equal(t, t0.Add(3*time.Second), *v.LastSeen)
	assert.False(t, v.Alert.IsAbnormal)
	assert.Equal(t, 22.0, *v.Current.Temperature)
}

func TestMonitor_EmptyNodeClearsLoading(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	h.send(nil)

	require.Eventually(t, func() bool { return !h.monitor.View().Loading }, waitFor, pollEvery)
	v := h.monitor.View()
	assert.Nil(t, v.Current)
	assert.Nil(t, v.LastSeen)
}

func TestMonitor_GoesOfflineAfterThreshold(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	h.send(reading(22, 70, 85))
	require.Eventually(t, func() bool { return h.monitor.View().Current != nil }, waitFor, pollEvery)

	// 70s 无数据：下一个状态 tick 标记离线
	h.clock.Add(70 * time.Second)
	require.Eventually(t, func() bool { return !h.monitor.View().IsOnline }, waitFor, pollEvery)

	// 新快照到达后恢复在线
	h.send(reading(22, 70, 85))
	require.Eventually(t, func() bool { return h.monitor.View().IsOnline }, waitFor, pollEvery)
}

func TestMonitor_OfflineWithoutAnyArrival(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	h.clock.Add(50 * time.Second)
	// 尚未超时
	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.monitor.View().IsOnline)

	h.clock.Add(20 * time.Second)
	require.Eventually(t, func() bool { return !h.monitor.View().IsOnline }, waitFor, pollEvery)
}

func TestMonitor_SubscriptionErrorToastOncePerOutage(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	source.errs <- errors.New("connection reset")
	source.errs <- errors.New("connection refused")

	require.Eventually(t, func() bool { return !h.monitor.View().IsOnline }, waitFor, pollEvery)
	assert.Equal(t, []string{connectionErrorTitle}, h.presenter.titles())
	assert.False(t, h.monitor.View().Loading)

	// 恢复后再次中断，重新提示
	h.send(reading(22, 70, 85))
	source.errs <- errors.New("connection reset")
	require.Eventually(t, func() bool { return len(h.presenter.titles()) == 2 }, waitFor, pollEvery)
}

func TestMonitor_BackfillSeedsHistory(t *testing.T) {
	source := newFakeSource()
	source.history = models.HistoricalSeries{
		"2024-06-01T07:30:00Z": *reading(25, 70, 80),
		"2024-06-01T07:40:00Z": *reading(26, 70, 80),
	}
	h := start(t, source, DefaultOptions())

	require.Eventually(t, func() bool { return h.monitor.History().Len() == 2 }, waitFor, pollEvery)

	points, err := h.monitor.History().Query(models.MetricTemperature, history.Range1H, t0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 25.0, points[0].Value)
}

func TestMonitor_BackfillFailureShowsDataError(t *testing.T) {
	source := newFakeSource()
	source.histErr = errors.New("permission denied")
	h := start(t, source, DefaultOptions())

	require.Eventually(t, func() bool { return len(h.presenter.titles()) == 1 }, waitFor, pollEvery)
	assert.Equal(t, []string{dataErrorTitle}, h.presenter.titles())
	assert.Equal(t, 0, h.monitor.History().Len())

	// 实时数据不受影响
	h.send(reading(22, 70, 85))
	require.Eventually(t, func() bool { return h.monitor.View().Current != nil }, waitFor, pollEvery)
}

func TestMonitor_SamplesAtMostOncePerMinute(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	for i := 0; i < 130; i++ {
		h.clock.Add(time.Second)
		h.send(&models.SensorSnapshot{
			Temperature: models.Float(22),
			ObservedAt:  models.FormatTimestamp(t0.Add(time.Duration(i+1) * time.Second)),
		})
	}

	// 60s 和 120s 各记录一次
	require.Eventually(t, func() bool { return h.monitor.History().Len() == 2 }, waitFor, pollEvery)
}

func TestMonitor_AlertLifecycle(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	h.send(reading(15, 70, 85))
	require.Eventually(t, func() bool { return h.monitor.View().AlertPhase == alerting.StateAlerting }, waitFor, pollEvery)
	require.Eventually(t, func() bool { return len(h.presenter.titles()) == 1 }, waitFor, pollEvery)

	v := h.monitor.View()
	assert.True(t, v.Alert.IsAbnormal)
	require.Len(t, v.Alert.Reasons, 1)
	assert.Equal(t, models.MetricTemperature, v.Alert.Reasons[0].Metric)

	// 重复提醒定时器
	h.clock.Add(5 * time.Second)
	require.Eventually(t, func() bool { return len(h.presenter.titles()) == 2 }, waitFor, pollEvery)

	h.send(reading(22, 70, 85))
	require.Eventually(t, func() bool { return h.monitor.View().AlertPhase == alerting.StateIdle }, waitFor, pollEvery)
	// 只剩状态定时器
	assert.Equal(t, 1, h.clock.Tickers())
}

func TestMonitor_PreferencesApplied(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	prefs := models.NotificationPreferences{Enabled: true, Permission: models.PermissionGranted}
	require.NoError(t, h.monitor.SetPreferences(context.Background(), prefs))

	require.Eventually(t, func() bool { return h.monitor.View().Notifications == prefs }, waitFor, pollEvery)
}

func TestMonitor_TeardownReleasesResources(t *testing.T) {
	source := newFakeSource()
	h := start(t, source, DefaultOptions())

	h.send(reading(15, 70, 85))
	require.Eventually(t, func() bool { return h.clock.Tickers() == 2 }, waitFor, pollEvery)

	h.stop(t)

	assert.True(t, source.isClosed())
	assert.Equal(t, 0, h.clock.Tickers())
	assert.ErrorIs(t, h.monitor.SetPreferences(context.Background(), models.NotificationPreferences{}), ErrStopped)
}
