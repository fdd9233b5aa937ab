package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/model"
)

const XPPerMinute = 4

// XPLedger is the slice of the XP event store the awarder depends on.
type XPLedger interface {
	FindSessionAward(ctx context.Context, userID, sessionID string) (*model.XPEvent, error)
	SumPoints(ctx context.Context, userID, source string, start, end time.Time) (int, error)
	InsertIfAbsent(ctx context.Context, params model.CreateXPEventParams) (*model.XPEvent, error)
}

type AwardXPOutcome struct {
	Requested int  `json:"requested"`
	Awarded   int  `json:"awarded"`
	Capped    bool `json:"capped"`
	// RemainingAllowance is nil when the plan has no daily cap.
	RemainingAllowance *int   `json:"remainingAllowance"`
	DayISO             string `json:"dayIso"`
}

type XPAwarder struct {
	policy model.PlanPolicy
	loc    *time.Location
	now    func() time.Time
}

func NewXPAwarder(policy model.PlanPolicy, loc *time.Location, now func() time.Time) *XPAwarder {
	if now == nil {
		now = time.Now
	}
	return &XPAwarder{policy: policy, loc: loc, now: now}
}

// Award grants XPPerMinute points for every completed minute of session,
// at most once per session, clipped to the plan's daily cap.
func (a *XPAwarder) Award(
	ctx context.Context,
	ledger XPLedger,
	session *model.StudySession,
	plan model.PlanID,
) (*AwardXPOutcome, error) {
	minutes := ComputeDuration(session.Items, true)
	requested := minutes * XPPerMinute
	window := LearningDayWindow(a.now(), a.loc)
	xpCap, limited := a.policy.XPCap(plan)

	if requested <= 0 {
		outcome := &AwardXPOutcome{DayISO: window.Day}
		if limited {
			outcome.RemainingAllowance = &xpCap
		}
		return outcome, nil
	}

	existing, err := ledger.FindSessionAward(ctx, session.UserID, session.ID)
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeXPLookupFailed, err)
	}
	if existing != nil {
		return a.replay(existing, requested, plan, window), nil
	}

	var remaining int
	awarded := requested
	if limited {
		total, err := ledger.SumPoints(ctx, session.UserID, model.XPSourceStudyBuddy, window.Start, window.End)
		if err != nil {
			return nil, apperrors.DataAccess(apperrors.ErrCodeXPWindowFailed, err)
		}
		remaining = max(0, xpCap-total)
		awarded = min(requested, remaining)
		if awarded <= 0 {
			return nil, apperrors.XPCapReached(xpCap, remaining)
		}
	}

	event, err := ledger.InsertIfAbsent(ctx, model.CreateXPEventParams{
		UserID: session.UserID,
		Source: model.XPSourceStudyBuddy,
		Points: awarded,
		Reason: model.XPReasonStudySessionComplete,
		Metadata: model.XPEventMetadata{
			SessionID:       session.ID,
			Minutes:         minutes,
			RequestedPoints: requested,
		},
	})
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeXPInsertFailed, err)
	}
	if event == nil {
		// Another request recorded this session first; report its award.
		existing, err := ledger.FindSessionAward(ctx, session.UserID, session.ID)
		if err != nil {
			return nil, apperrors.DataAccess(apperrors.ErrCodeXPLookupFailed, err)
		}
		if existing == nil {
			return nil, apperrors.Internal("xp award vanished after conflict")
		}
		return a.replay(existing, requested, plan, window), nil
	}

	log.Info().
		Str("userId", session.UserID).
		Str("sessionId", session.ID).
		Int("requested", requested).
		Int("awarded", awarded).
		Msg("xp awarded")

	outcome := &AwardXPOutcome{
		Requested: requested,
		Awarded:   awarded,
		Capped:    limited && awarded < requested,
		DayISO:    window.Day,
	}
	if limited {
		left := remaining - awarded
		outcome.RemainingAllowance = &left
	}
	return outcome, nil
}

func (a *XPAwarder) replay(existing *model.XPEvent, requested int, plan model.PlanID, window LearningDay) *AwardXPOutcome {
	outcome := &AwardXPOutcome{
		Requested: requested,
		Awarded:   existing.Points,
		DayISO:    window.Day,
	}
	if xpCap, limited := a.policy.XPCap(plan); limited {
		left := max(0, xpCap-existing.Points)
		outcome.RemainingAllowance = &left
	}
	return outcome
}
