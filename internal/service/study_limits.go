package service

import (
	"context"
	"time"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/model"
)

// SessionReader is the read access the minutes gate needs.
type SessionReader interface {
	ListCreatedBetween(ctx context.Context, userID string, start, end time.Time, states []model.SessionState) ([]model.StudySessionRow, error)
}

type Gatekeeper struct {
	policy model.PlanPolicy
	loc    *time.Location
	now    func() time.Time
}

func NewGatekeeper(policy model.PlanPolicy, loc *time.Location, now func() time.Time) *Gatekeeper {
	if now == nil {
		now = time.Now
	}
	return &Gatekeeper{policy: policy, loc: loc, now: now}
}

// EnforceDailyMinutesLimit fails with daily_minutes_exceeded when creating a session of
// minutesRequested would push the user past the plan's allowance for the
// current learning day. It does not write anything.
func (g *Gatekeeper) EnforceDailyMinutesLimit(
	ctx context.Context,
	sessions SessionReader,
	userID string,
	plan model.PlanID,
	minutesRequested int,
) error {
	allowance, limited := g.policy.MinutesAllowance(plan)
	if !limited {
		return nil
	}

	window := LearningDayWindow(g.now(), g.loc)
	rows, err := sessions.ListCreatedBetween(ctx, userID, window.Start, window.End, model.CountedSessionStates)
	if err != nil {
		return apperrors.DataAccess(apperrors.ErrCodeDailyLimitQueryFailed, err)
	}

	total := 0
	for i := range rows {
		if session := HydrateSession(&rows[i]); session != nil {
			total += PlannedMinutes(session)
		}
	}

	if total+minutesRequested > allowance {
		return apperrors.DailyMinutesExceeded(allowance, max(0, allowance-total))
	}
	return nil
}
