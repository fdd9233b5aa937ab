package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/model"
)

var xpNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func completedSession(userID string, minutes ...int) *model.StudySession {
	items := make([]model.StudyItem, len(minutes))
	for i, m := range minutes {
		items[i] = model.StudyItem{Skill: "Listening", Minutes: m, Status: model.ItemStatusCompleted}
	}
	return &model.StudySession{ID: uuid.NewString(), UserID: userID, State: model.SessionStateStarted, Items: items}
}

func newTestAwarder() *XPAwarder {
	return NewXPAwarder(model.DefaultPlanPolicy(), karachi(), fixedClock(xpNow))
}

func TestXPAwarder_AwardsFourPerCompletedMinute(t *testing.T) {
	ledger := newMemXPRepo(fixedClock(xpNow))
	session := completedSession("u1", 10, 5)
	session.Items = append(session.Items, model.StudyItem{Skill: "Writing", Minutes: 30, Status: model.ItemStatusStarted})

	outcome, err := newTestAwarder().Award(context.Background(), ledger, session, model.PlanStarter)

	require.NoError(t, err)
	assert.Equal(t, 60, outcome.Requested)
	assert.Equal(t, 60, outcome.Awarded)
	assert.False(t, outcome.Capped)
	assert.Nil(t, outcome.RemainingAllowance)
	assert.Equal(t, "2026-03-10", outcome.DayISO)
	assert.Equal(t, 1, ledger.count())
}

func TestXPAwarder_DayISOIsLocalCalendarDate(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		day  string
	}{
		{"early morning in Karachi is still that day", time.Date(2026, 3, 10, 9, 0, 0, 0, time.FixedZone("PKT", 5*60*60)), "2026-03-10"},
		{"late UTC evening is the next Karachi day", time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC), "2026-03-11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			awarder := NewXPAwarder(model.DefaultPlanPolicy(), karachi(), fixedClock(tt.now))
			outcome, err := awarder.Award(context.Background(), newMemXPRepo(fixedClock(tt.now)), completedSession("u1", 10), model.PlanMaster)

			require.NoError(t, err)
			assert.Equal(t, tt.day, outcome.DayISO)
		})
	}
}

func TestXPAwarder_Idempotent(t *testing.T) {
	ledger := newMemXPRepo(fixedClock(xpNow))
	awarder := newTestAwarder()
	session := completedSession("u1", 20)

	first, err := awarder.Award(context.Background(), ledger, session, model.PlanFree)
	require.NoError(t, err)
	second, err := awarder.Award(context.Background(), ledger, session, model.PlanFree)
	require.NoError(t, err)

	assert.Equal(t, 80, first.Awarded)
	assert.Equal(t, first.Awarded, second.Awarded)
	assert.Equal(t, 1, ledger.count())
	require.NotNil(t, second.RemainingAllowance)
	assert.Equal(t, 100, *second.RemainingAllowance)
}

func TestXPAwarder_CapCorrectness(t *testing.T) {
	tests := []struct {
		name      string
		prior     int
		minutes   int
		awarded   int
		capped    bool
		remaining int
	}{
		{"well under cap", 0, 10, 40, false, 140},
		{"exactly reaches cap", 100, 20, 80, false, 0},
		{"clipped by cap", 160, 10, 20, true, 0},
		{"whole cap in one session", 0, 45, 180, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMemXPRepo(fixedClock(xpNow))
			if tt.prior > 0 {
				ledger.seed("u1", tt.prior, xpNow.Add(-time.Hour))
			}

			outcome, err := newTestAwarder().Award(context.Background(), ledger, completedSession("u1", tt.minutes), model.PlanFree)

			require.NoError(t, err)
			assert.Equal(t, tt.minutes*XPPerMinute, outcome.Requested)
			assert.Equal(t, min(outcome.Requested, max(0, 180-tt.prior)), outcome.Awarded)
			assert.Equal(t, tt.awarded, outcome.Awarded)
			assert.Equal(t, tt.capped, outcome.Capped)
			assert.Equal(t, outcome.Awarded < outcome.Requested, outcome.Capped)
			require.NotNil(t, outcome.RemainingAllowance)
			assert.Equal(t, tt.remaining, *outcome.RemainingAllowance)
		})
	}
}

func TestXPAwarder_CapReached(t *testing.T) {
	ledger := newMemXPRepo(fixedClock(xpNow))
	ledger.seed("u1", 200, xpNow.Add(-time.Hour))

	_, err := newTestAwarder().Award(context.Background(), ledger, completedSession("u1", 10), model.PlanFree)

	requirePlanLimit(t, err, apperrors.ErrCodeXPCapReached, 180, 0)
	assert.Equal(t, 1, ledger.count())
}

func TestXPAwarder_PriorDayAwardsIgnored(t *testing.T) {
	ledger := newMemXPRepo(fixedClock(xpNow))
	window := LearningDayWindow(xpNow, karachi())
	ledger.seed("u1", 180, window.Start.Add(-time.Second))

	outcome, err := newTestAwarder().Award(context.Background(), ledger, completedSession("u1", 10), model.PlanFree)

	require.NoError(t, err)
	assert.Equal(t, 40, outcome.Awarded)
}

func TestXPAwarder_NothingCompleted(t *testing.T) {
	ledger := newMemXPRepo(fixedClock(xpNow))
	ledger.failLookup = true
	session := sessionWith(model.SessionStateStarted, model.ItemStatusStarted)

	outcome, err := newTestAwarder().Award(context.Background(), ledger, session, model.PlanFree)

	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Requested)
	assert.Equal(t, 0, outcome.Awarded)
	assert.False(t, outcome.Capped)
	require.NotNil(t, outcome.RemainingAllowance)
	assert.Equal(t, 180, *outcome.RemainingAllowance)
	assert.Equal(t, 0, ledger.count())
}

func TestXPAwarder_DataFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memXPRepo)
		code  apperrors.ErrorCode
	}{
		{"lookup", func(r *memXPRepo) { r.failLookup = true }, apperrors.ErrCodeXPLookupFailed},
		{"window", func(r *memXPRepo) { r.failSum = true }, apperrors.ErrCodeXPWindowFailed},
		{"insert", func(r *memXPRepo) { r.failInsert = true }, apperrors.ErrCodeXPInsertFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMemXPRepo(fixedClock(xpNow))
			tt.setup(ledger)

			_, err := newTestAwarder().Award(context.Background(), ledger, completedSession("u1", 10), model.PlanFree)

			assert.Equal(t, tt.code, apperrors.GetCode(err))
			assert.ErrorIs(t, err, errStoreDown)
		})
	}
}

// racingLedger hides the winner's row from the first lookup, as if the
// competing insert committed between the check and the write.
type racingLedger struct {
	*memXPRepo
	lookups int
}

func (r *racingLedger) FindSessionAward(ctx context.Context, userID, sessionID string) (*model.XPEvent, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, nil
	}
	return r.memXPRepo.FindSessionAward(ctx, userID, sessionID)
}

func TestXPAwarder_LosingRaceReturnsWinner(t *testing.T) {
	ledger := &racingLedger{memXPRepo: newMemXPRepo(fixedClock(xpNow))}
	awarder := newTestAwarder()
	session := completedSession("u1", 10)

	_, err := awarder.Award(context.Background(), ledger.memXPRepo, session, model.PlanStarter)
	require.NoError(t, err)

	outcome, err := awarder.Award(context.Background(), ledger, session, model.PlanStarter)

	require.NoError(t, err)
	assert.Equal(t, 40, outcome.Awarded)
	assert.Equal(t, 2, ledger.lookups)
	assert.Equal(t, 1, ledger.count())
}
