package alerting

import (
	"context"
	"errors"
	"hive-watch/internal/models"
	"hive-watch/internal/push"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePresenter struct {
	toasts        []models.Toast
	notifications []models.Notification
}

func (p *fakePresenter) ShowToast(t models.Toast) error {
	p.toasts = append(p.toasts, t)
	return nil
}

func (p *fakePresenter) ShowNotification(n models.Notification) error {
	p.notifications = append(p.notifications, n)
	return nil
}

type fakeTokens struct {
	tokens []string
	err    error
}

func (f fakeTokens) Tokens(ctx context.Context) ([]string, error) { return f.tokens, f.err }

type fakeSender struct {
	sent [][]string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, tokens []string, n models.Notification) error {
	if len(tokens) == 0 {
		return push.ErrNoTokens
	}
	s.sent = append(s.sent, tokens)
	return s.err
}

var alert = models.Notification{Title: "Beehive Alert 🚨", Body: "Temperature: 15°C", Tag: "beehive-alert"}

func TestToastAndLocalChannels(t *testing.T) {
	presenter := &fakePresenter{}

	require.NoError(t, NewToastChannel(presenter).Notify(context.Background(), alert))
	require.NoError(t, NewLocalNotificationChannel(presenter).Notify(context.Background(), alert))

	require.Len(t, presenter.toasts, 1)
	assert.Equal(t, "Beehive Alert 🚨", presenter.toasts[0].Title)
	assert.Equal(t, "Temperature: 15°C", presenter.toasts[0].Description)
	assert.Equal(t, models.ToastDestructive, presenter.toasts[0].Variant)

	require.Len(t, presenter.notifications, 1)
	assert.True(t, presenter.notifications[0].RequireInteraction)
	assert.Equal(t, "beehive-alert", presenter.notifications[0].Tag)
}

func TestPushChannel(t *testing.T) {
	sender := &fakeSender{}
	ch := NewPushChannel(fakeTokens{tokens: []string{"t1", "t2"}}, sender)
	require.NoError(t, ch.Notify(context.Background(), alert))
	assert.Equal(t, [][]string{{"t1", "t2"}}, sender.sent)

	// 没有 token 时静默跳过
	empty := NewPushChannel(fakeTokens{}, sender)
	assert.NoError(t, empty.Notify(context.Background(), alert))

	broken := NewPushChannel(fakeTokens{err: errors.New("redis down")}, sender)
	assert.ErrorContains(t, broken.Notify(context.Background(), alert), "redis down")

	failing := NewPushChannel(fakeTokens{tokens: []string{"t1"}}, &fakeSender{err: errors.New("503")})
	assert.Error(t, failing.Notify(context.Background(), alert))
}

func TestDefaultChannelsOrder(t *testing.T) {
	presenter := &fakePresenter{}
	channels := DefaultChannels(presenter, NewPushChannel(fakeTokens{}, &fakeSender{}))

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	assert.Equal(t, []string{ChannelToast, ChannelLocal, ChannelPush}, names)
	assert.Len(t, DefaultChannels(presenter, nil), 2)
}

type fakeEventStore struct {
	created  []*models.AlertEvent
	resolved []string
}

func (s *fakeEventStore) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	s.created = append(s.created, event)
	return nil
}

func (s *fakeEventStore) ResolveAlertEvent(ctx context.Context, eventID string, resolvedAt time.Time) error {
	s.resolved = append(s.resolved, eventID)
	return nil
}

type fakePublisher struct {
	statuses []string
	err      error
}

func (p *fakePublisher) PublishAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	p.statuses = append(p.statuses, event.Status)
	return p.err
}

func TestEventBuilder(t *testing.T) {
	state := models.AlertState{
		IsAbnormal: true,
		Reasons:    []models.Reason{{Metric: models.MetricTemperature, Value: 15, Bound: 18, Limit: models.LimitMin}},
	}
	event, err := NewEventBuilder("hive-1").Build(state, *snapshot(15, 70, 80), t0)

	require.NoError(t, err)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "hive-1", event.DeviceID)
	assert.Equal(t, models.AlertStatusActive, event.Status)
	assert.JSONEq(t, `[{"metric":"temperature","value":15,"bound":18,"limit":"min"}]`, event.Reasons)
	assert.JSONEq(t, `{"temperature":15,"humidity":70,"air_quality":80}`, event.Snapshot)
	assert.Equal(t, t0, event.TriggeredAt)
}

func TestEventRecorder_Lifecycle(t *testing.T) {
	store := &fakeEventStore{}
	publisher := &fakePublisher{err: errors.New("stream unavailable")}
	r := NewEventRecorder(NewEventBuilder("hive-1"), store, publisher, zap.NewNop())

	// 没有进行中的报警时忽略
	r.AlertCleared(context.Background(), t0)
	assert.Empty(t, store.resolved)

	r.AlertStarted(context.Background(), models.AlertState{IsAbnormal: true}, *snapshot(15, 70, 80), t0)
	require.Len(t, store.created, 1)
	active := r.Active()
	require.NotNil(t, active)
	assert.Equal(t, store.created[0].EventID, active.EventID)

	r.AlertCleared(context.Background(), t0.Add(time.Minute))
	assert.Equal(t, []string{active.EventID}, store.resolved)
	assert.Nil(t, r.Active())

	// 事件流写入失败不影响数据库记录
	assert.Equal(t, []string{models.AlertStatusActive, models.AlertStatusResolved}, publisher.statuses)
}
