package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gramorx/studybuddy-server/internal/analytics"
	"github.com/gramorx/studybuddy-server/internal/model"
	"github.com/gramorx/studybuddy-server/internal/service"
)

const sweepTimeout = 30 * time.Second

type StaleSessionCanceller interface {
	CancelStale(ctx context.Context, createdBefore, endedAt time.Time) ([]model.StudySessionRow, error)
}

// StaleSessionJob closes sessions left pending or started for longer than
// maxAge so abandoned work does not linger open.
type StaleSessionJob struct {
	sessions StaleSessionCanceller
	recorder *analytics.Recorder
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

func NewStaleSessionJob(
	sessions StaleSessionCanceller,
	recorder *analytics.Recorder,
	maxAge time.Duration,
	interval time.Duration,
) *StaleSessionJob {
	return &StaleSessionJob{
		sessions: sessions,
		recorder: recorder,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (j *StaleSessionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("maxAge", j.maxAge).Msg("stale session job started")
}

func (j *StaleSessionJob) Stop() {
	close(j.done)
	log.Info().Msg("stale session job stopped")
}

func (j *StaleSessionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *StaleSessionJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := j.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("failed to cancel stale sessions")
	}
}

// Sweep cancels every stale session once and reports how many it closed.
func (j *StaleSessionJob) Sweep(ctx context.Context) (int, error) {
	now := j.now()
	rows, err := j.sessions.CancelStale(ctx, now.Add(-j.maxAge), now)
	if err != nil {
		return 0, err
	}

	for i := range rows {
		session := service.HydrateSession(&rows[i])
		j.recorder.Record(ctx, analytics.EventSessionAbandoned, map[string]any{
			"sessionId":        session.ID,
			"userId":           session.UserID,
			"reason":           "stale",
			"completedMinutes": service.ComputeDuration(session.Items, true),
		})
	}

	if len(rows) > 0 {
		log.Info().Int("count", len(rows)).Msg("cancelled stale study sessions")
	}
	return len(rows), nil
}
