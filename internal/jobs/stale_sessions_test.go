package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gramorx/studybuddy-server/internal/analytics"
	"github.com/gramorx/studybuddy-server/internal/model"
)

type mockCanceller struct {
	mock.Mock
}

func (m *mockCanceller) CancelStale(ctx context.Context, createdBefore, endedAt time.Time) ([]model.StudySessionRow, error) {
	args := m.Called(ctx, createdBefore, endedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StudySessionRow), args.Error(1)
}

type recordingSink struct {
	payloads []map[string]any
}

func (s *recordingSink) Log(_ context.Context, event analytics.Event, payload map[string]any) error {
	if event == analytics.EventSessionAbandoned {
		s.payloads = append(s.payloads, payload)
	}
	return nil
}

func TestStaleSessionJob_Sweep(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	canceller := new(mockCanceller)
	canceller.On("CancelStale", mock.Anything, now.Add(-24*time.Hour), now).Return([]model.StudySessionRow{
		{
			ID:     "s1",
			UserID: "u1",
			State:  model.SessionStateCancelled,
			Items:  json.RawMessage(`[{"skill":"Reading","minutes":20,"status":"completed"},{"skill":"Writing","minutes":30}]`),
		},
		{ID: "s2", UserID: "u2", State: model.SessionStateCancelled, Items: json.RawMessage(`[]`)},
	}, nil)

	sink := &recordingSink{}
	job := NewStaleSessionJob(canceller, analytics.NewRecorder(sink), 24*time.Hour, time.Hour)
	job.now = func() time.Time { return now }

	count, err := job.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, sink.payloads, 2)
	assert.Equal(t, "s1", sink.payloads[0]["sessionId"])
	assert.Equal(t, "stale", sink.payloads[0]["reason"])
	assert.Equal(t, 20, sink.payloads[0]["completedMinutes"])
	canceller.AssertExpectations(t)
}

func TestStaleSessionJob_SweepError(t *testing.T) {
	canceller := new(mockCanceller)
	canceller.On("CancelStale", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	sink := &recordingSink{}
	job := NewStaleSessionJob(canceller, analytics.NewRecorder(sink), time.Hour, time.Hour)

	count, err := job.Sweep(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, sink.payloads)
}

func TestStaleSessionJob_StartStop(t *testing.T) {
	called := make(chan struct{}, 1)
	canceller := new(mockCanceller)
	canceller.On("CancelStale", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case called <- struct{}{}:
			default:
			}
		}).
		Return([]model.StudySessionRow{}, nil)

	job := NewStaleSessionJob(canceller, nil, time.Hour, time.Hour)
	job.Start()
	defer job.Stop()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("sweep did not run on start")
	}
}
