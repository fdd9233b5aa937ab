package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/gramorx/studybuddy-server/internal/analytics"
	"github.com/gramorx/studybuddy-server/internal/database"
	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/model"
	"github.com/gramorx/studybuddy-server/internal/repository"
)

const (
	recentSessionsLimit = 5
	streakLookbackDays  = 90
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type CreateStudySessionInput struct {
	Items    json.RawMessage
	AIPlanID *string
}

type CompleteStudySessionResult struct {
	Session *model.StudySession `json:"session"`
	XP      *AwardXPOutcome     `json:"xp"`
}

type StudySummary struct {
	WeeklyMinutes  int                  `json:"weeklyMinutes"`
	WeeklyGoal     int                  `json:"weeklyGoal"`
	StreakDays     int                  `json:"streakDays"`
	TotalSessions  int                  `json:"totalSessions"`
	RecentSessions []model.StudySession `json:"recentSessions"`
}

type StudySessionPage struct {
	Sessions []model.StudySession `json:"sessions"`
	Total    int                  `json:"total"`
	HasMore  bool                 `json:"hasMore"`
}

type StudySessionOptions struct {
	Policy            model.PlanPolicy
	Location          *time.Location
	WeeklyGoalMinutes int
	Now               func() time.Time
}

type StudySessionService struct {
	tx          TxRunner
	sessionRepo repository.StudySessionRepository
	xpRepo      repository.XPEventRepository
	recorder    *analytics.Recorder
	gate        *Gatekeeper
	awarder     *XPAwarder
	loc         *time.Location
	weeklyGoal  int
	now         func() time.Time
}

func NewStudySessionService(
	tx TxRunner,
	sessionRepo repository.StudySessionRepository,
	xpRepo repository.XPEventRepository,
	recorder *analytics.Recorder,
	opts StudySessionOptions,
) *StudySessionService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &StudySessionService{
		tx:          tx,
		sessionRepo: sessionRepo,
		xpRepo:      xpRepo,
		recorder:    recorder,
		gate:        NewGatekeeper(opts.Policy, opts.Location, opts.Now),
		awarder:     NewXPAwarder(opts.Policy, opts.Location, opts.Now),
		loc:         opts.Location,
		weeklyGoal:  opts.WeeklyGoalMinutes,
		now:         opts.Now,
	}
}

// FetchSession loads and hydrates a session owned by userID. It returns nil
// when no such session exists.
func (s *StudySessionService) FetchSession(ctx context.Context, id, userID string) (*model.StudySession, error) {
	row, err := s.sessionRepo.FindByID(ctx, id, userID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", id).Str("userId", userID).Msg("failed to load study session")
		return nil, apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}
	return HydrateSession(row), nil
}

func (s *StudySessionService) Create(ctx context.Context, p model.Principal, input CreateStudySessionInput) (*model.StudySession, error) {
	items := SanitizeItems(input.Items)
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("items", "at least one study item is required")
	}
	// A new session always starts from scratch.
	for i := range items {
		items[i].Status = model.ItemStatusPending
	}

	minutes := ComputeDuration(items, false)
	if err := s.gate.EnforceDailyMinutesLimit(ctx, s.sessionRepo, p.UserID, p.Plan, minutes); err != nil {
		return nil, err
	}

	var aiPlanID *string
	if input.AIPlanID != nil {
		aiPlanID = trimText(*input.AIPlanID)
	}

	row, err := s.sessionRepo.Create(ctx, model.CreateStudySessionParams{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		Items:           items,
		DurationMinutes: minutes,
		AIPlanID:        aiPlanID,
	})
	if err != nil {
		log.Error().Err(err).Str("userId", p.UserID).Msg("failed to create study session")
		return nil, apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
	}
	session := HydrateSession(row)

	log.Info().
		Str("sessionId", session.ID).
		Str("userId", p.UserID).
		Int("minutes", minutes).
		Msg("study session created")

	s.recorder.Record(ctx, analytics.EventSessionCreated, map[string]any{
		"sessionId": session.ID,
		"userId":    p.UserID,
		"plan":      string(p.Plan),
		"items":     len(items),
		"minutes":   minutes,
		"aiPlanId":  aiPlanID,
	})
	return session, nil
}

func (s *StudySessionService) Get(ctx context.Context, p model.Principal, id string) (*model.StudySession, error) {
	session, err := s.FetchSession(ctx, id, p.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("Study session")
	}
	return session, nil
}

// List returns the caller's sessions, newest first.
func (s *StudySessionService) List(ctx context.Context, p model.Principal, limit, offset int) (*StudySessionPage, error) {
	rows, err := s.sessionRepo.ListByUserID(ctx, p.UserID, limit, offset)
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}
	total, err := s.sessionRepo.CountByUserID(ctx, p.UserID)
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}

	page := &StudySessionPage{
		Sessions: make([]model.StudySession, 0, len(rows)),
		Total:    total,
		HasMore:  offset+len(rows) < total,
	}
	for i := range rows {
		page.Sessions = append(page.Sessions, *HydrateSession(&rows[i]))
	}
	return page, nil
}

func (s *StudySessionService) Start(ctx context.Context, p model.Principal, id string) (*model.StudySession, error) {
	session, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case model.SessionStateCancelled:
		return nil, apperrors.SessionCancelled()
	case model.SessionStateCompleted:
		return nil, apperrors.SessionCompleted()
	case model.SessionStateStarted:
		return session, nil
	}

	now := s.now()
	row, err := s.sessionRepo.UpdateProgress(ctx, model.UpdateStudySessionParams{
		ID:        id,
		UserID:    p.UserID,
		Items:     session.Items,
		State:     model.SessionStateStarted,
		StartedAt: &now,
	})
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
	}
	if row == nil {
		return nil, s.closedError(ctx, id, p.UserID)
	}

	s.recordStarted(ctx, p, session)
	return HydrateSession(row), nil
}

func (s *StudySessionService) UpdateProgress(
	ctx context.Context,
	p model.Principal,
	id string,
	index int,
	status model.ItemStatus,
	note *string,
) (*model.StudySession, error) {
	if !status.Valid() {
		return nil, apperrors.InvalidInput("status", "must be pending, started or completed")
	}

	var (
		session *model.StudySession
		next    model.StudySession
		row     *model.StudySessionRow
		state   model.SessionState
	)
	// The row lock keeps a concurrent progress call from applying its change
	// to a copy of the items that this call is about to overwrite.
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		sessionRepo := s.sessionRepo.WithTx(tx)

		current, err := sessionRepo.FindByIDForUpdate(ctx, id, p.UserID)
		if err != nil {
			return apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
		}
		if current == nil {
			return apperrors.NotFound("Study session")
		}
		session = HydrateSession(current)

		if session.State == model.SessionStateCancelled {
			return apperrors.SessionCancelled()
		}
		if err := AssertTransition(session, index, status); err != nil {
			return err
		}

		next = ApplyItemStatus(*session, index, status, note)
		state = session.State
		if sameItem(session.Items[index], next.Items[index]) {
			return nil
		}

		var startedAt *time.Time
		if status == model.ItemStatusStarted && state == model.SessionStatePending {
			now := s.now()
			state = model.SessionStateStarted
			startedAt = &now
		}

		row, err = sessionRepo.UpdateProgress(ctx, model.UpdateStudySessionParams{
			ID:        id,
			UserID:    p.UserID,
			Items:     next.Items,
			State:     state,
			StartedAt: startedAt,
		})
		if err != nil {
			return apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
		}
		if row == nil {
			return s.closedErrorFrom(ctx, sessionRepo, id, p.UserID)
		}
		return nil
	})
	if err != nil {
		if !apperrors.IsAppError(err) {
			err = apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
		}
		if code := apperrors.GetCode(err); code == apperrors.ErrCodeLoadFailed || code == apperrors.ErrCodeSaveFailed {
			log.Error().Err(err).Str("sessionId", id).Int("itemIndex", index).Msg("failed to save study progress")
		}
		return nil, err
	}
	if row == nil {
		return session, nil
	}

	if state != session.State {
		s.recordStarted(ctx, p, session)
	}
	if status == model.ItemStatusCompleted {
		item := next.Items[index]
		s.recorder.Record(ctx, analytics.EventItemCompleted, map[string]any{
			"sessionId": id,
			"userId":    p.UserID,
			"itemIndex": index,
			"skill":     item.Skill,
			"minutes":   item.Minutes,
		})
	}
	return HydrateSession(row), nil
}

// Complete awards XP for the session's completed items and closes it. The
// award and the state change commit together, so a failed award (including
// a reached cap) leaves the session open. Completing an already completed
// session returns the stored result without touching the ledger.
func (s *StudySessionService) Complete(ctx context.Context, p model.Principal, id string) (*CompleteStudySessionResult, error) {
	session, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case model.SessionStateCancelled:
		return nil, apperrors.SessionCancelled()
	case model.SessionStateCompleted:
		return &CompleteStudySessionResult{Session: session, XP: s.storedOutcome(session, p.Plan)}, nil
	}

	var (
		completed *model.StudySessionRow
		outcome   *AwardXPOutcome
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		xpRepo := s.xpRepo.WithTx(tx)
		sessionRepo := s.sessionRepo.WithTx(tx)

		if err := xpRepo.LockUser(ctx, p.UserID); err != nil {
			return apperrors.DataAccess(apperrors.ErrCodeXPLookupFailed, err)
		}

		var err error
		outcome, err = s.awarder.Award(ctx, xpRepo, session, p.Plan)
		if err != nil {
			return err
		}

		completed, err = sessionRepo.MarkCompleted(ctx, id, p.UserID, outcome.Awarded, s.now())
		if err != nil {
			return apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
		}
		if completed == nil {
			return s.closedErrorFrom(ctx, sessionRepo, id, p.UserID)
		}
		return nil
	})
	if err != nil {
		if !apperrors.IsAppError(err) {
			err = apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
		}
		log.Warn().Err(err).Str("sessionId", id).Str("userId", p.UserID).Msg("study session completion failed")
		return nil, err
	}

	result := HydrateSession(completed)

	log.Info().
		Str("sessionId", id).
		Str("userId", p.UserID).
		Int("xp", outcome.Awarded).
		Bool("capped", outcome.Capped).
		Msg("study session completed")

	s.recorder.Record(ctx, analytics.EventSessionCompleted, map[string]any{
		"sessionId":      id,
		"userId":         p.UserID,
		"plan":           string(p.Plan),
		"minutes":        ComputeDuration(result.Items, true),
		"xpRequested":    outcome.Requested,
		"xpAwarded":      outcome.Awarded,
		"capped":         outcome.Capped,
		"learningDayIso": outcome.DayISO,
	})
	return &CompleteStudySessionResult{Session: result, XP: outcome}, nil
}

func (s *StudySessionService) Cancel(ctx context.Context, p model.Principal, id string) (*model.StudySession, error) {
	session, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case model.SessionStateCompleted:
		return nil, apperrors.SessionCompleted()
	case model.SessionStateCancelled:
		return session, nil
	}

	row, err := s.sessionRepo.MarkCancelled(ctx, id, p.UserID, s.now())
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeSaveFailed, err)
	}
	if row == nil {
		return nil, s.closedError(ctx, id, p.UserID)
	}

	s.recorder.Record(ctx, analytics.EventSessionAbandoned, map[string]any{
		"sessionId":        id,
		"userId":           p.UserID,
		"reason":           "user",
		"completedMinutes": ComputeDuration(session.Items, true),
	})
	return HydrateSession(row), nil
}

// Summary reports weekly progress and the current streak measured in
// learning days.
func (s *StudySessionService) Summary(ctx context.Context, p model.Principal) (*StudySummary, error) {
	today := LearningDayWindow(s.now(), s.loc)
	todayLocal := today.Start.In(s.loc)
	weekStart := todayLocal.AddDate(0, 0, -6)
	lookback := todayLocal.AddDate(0, 0, -streakLookbackDays)

	completed, err := s.sessionRepo.ListCompletedSince(ctx, p.UserID, lookback)
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}
	recent, err := s.sessionRepo.ListByUserID(ctx, p.UserID, recentSessionsLimit, 0)
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}
	total, err := s.sessionRepo.CountByUserID(ctx, p.UserID)
	if err != nil {
		return nil, apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}

	summary := &StudySummary{
		WeeklyGoal:     s.weeklyGoal,
		TotalSessions:  total,
		RecentSessions: make([]model.StudySession, 0, len(recent)),
	}

	activeDays := make(map[string]bool)
	for i := range completed {
		session := HydrateSession(&completed[i])
		finished := session.CreatedAt
		if session.EndedAt != nil {
			finished = *session.EndedAt
		}
		activeDays[LearningDayWindow(finished, s.loc).Day] = true
		if !finished.Before(weekStart) {
			summary.WeeklyMinutes += ComputeDuration(session.Items, true)
		}
	}
	summary.StreakDays = streak(activeDays, todayLocal)

	for i := range recent {
		summary.RecentSessions = append(summary.RecentSessions, *HydrateSession(&recent[i]))
	}
	return summary, nil
}

// streak counts consecutive active days ending today, or ending yesterday
// when today has no activity yet.
func streak(activeDays map[string]bool, today time.Time) int {
	day := today
	if !activeDays[day.Format(time.DateOnly)] {
		day = day.AddDate(0, 0, -1)
	}
	count := 0
	for activeDays[day.Format(time.DateOnly)] {
		count++
		day = day.AddDate(0, 0, -1)
	}
	return count
}

func (s *StudySessionService) storedOutcome(session *model.StudySession, plan model.PlanID) *AwardXPOutcome {
	outcome := &AwardXPOutcome{
		Requested: ComputeDuration(session.Items, true) * XPPerMinute,
		Awarded:   session.XPEarned,
		DayISO:    LearningDayWindow(s.now(), s.loc).Day,
	}
	outcome.Capped = outcome.Awarded < outcome.Requested
	if xpCap, limited := s.awarder.policy.XPCap(plan); limited {
		left := max(0, xpCap-session.XPEarned)
		outcome.RemainingAllowance = &left
	}
	return outcome
}

func (s *StudySessionService) recordStarted(ctx context.Context, p model.Principal, session *model.StudySession) {
	s.recorder.Record(ctx, analytics.EventSessionStarted, map[string]any{
		"sessionId": session.ID,
		"userId":    p.UserID,
		"items":     len(session.Items),
		"minutes":   PlannedMinutes(session),
	})
}

func (s *StudySessionService) closedError(ctx context.Context, id, userID string) error {
	return s.closedErrorFrom(ctx, s.sessionRepo, id, userID)
}

// closedErrorFrom explains why a conditional update matched no row: the
// session was closed by a concurrent request.
func (s *StudySessionService) closedErrorFrom(ctx context.Context, repo repository.StudySessionRepository, id, userID string) error {
	row, err := repo.FindByID(ctx, id, userID)
	if err != nil {
		return apperrors.DataAccess(apperrors.ErrCodeLoadFailed, err)
	}
	if row == nil {
		return apperrors.NotFound("Study session")
	}
	if row.State == model.SessionStateCancelled {
		return apperrors.SessionCancelled()
	}
	return apperrors.SessionCompleted()
}

func sameItem(a, b model.StudyItem) bool {
	return a.Status == b.Status && equalText(a.Note, b.Note)
}

func equalText(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
