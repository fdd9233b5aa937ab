package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gramorx/studybuddy-server/internal/database"
	"github.com/gramorx/studybuddy-server/internal/model"
	"github.com/gramorx/studybuddy-server/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// memSessionRepo is an in-memory StudySessionRepository mirroring the
// conditional updates of the Postgres implementation.
type memSessionRepo struct {
	mu      sync.Mutex
	rows    map[string]model.StudySessionRow
	now     func() time.Time
	failAll bool
	// rowLocks counts FindByIDForUpdate calls.
	rowLocks int
}

func newMemSessionRepo(now func() time.Time) *memSessionRepo {
	return &memSessionRepo{rows: make(map[string]model.StudySessionRow), now: now}
}

func (r *memSessionRepo) WithTx(*sqlx.Tx) repository.StudySessionRepository { return r }

func (r *memSessionRepo) put(row model.StudySessionRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.ID] = row
}

func (r *memSessionRepo) FindByID(_ context.Context, id, userID string) (*model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStoreDown
	}
	row, ok := r.rows[id]
	if !ok || row.UserID != userID {
		return nil, nil
	}
	return &row, nil
}

func (r *memSessionRepo) FindByIDForUpdate(ctx context.Context, id, userID string) (*model.StudySessionRow, error) {
	r.mu.Lock()
	r.rowLocks++
	r.mu.Unlock()
	return r.FindByID(ctx, id, userID)
}

func (r *memSessionRepo) Create(_ context.Context, params model.CreateStudySessionParams) (*model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStoreDown
	}
	items, _ := json.Marshal(params.Items)
	duration := params.DurationMinutes
	row := model.StudySessionRow{
		ID:              params.ID,
		UserID:          params.UserID,
		Items:           items,
		State:           model.SessionStatePending,
		CreatedAt:       r.now(),
		DurationMinutes: &duration,
		AIPlanID:        params.AIPlanID,
	}
	r.rows[row.ID] = row
	return &row, nil
}

func (r *memSessionRepo) ListCreatedBetween(_ context.Context, userID string, start, end time.Time, states []model.SessionState) ([]model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStoreDown
	}
	var out []model.StudySessionRow
	for _, row := range r.rows {
		if row.UserID != userID || !slices.Contains(states, row.State) {
			continue
		}
		if row.CreatedAt.Before(start) || !row.CreatedAt.Before(end) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *memSessionRepo) open(id, userID string) (model.StudySessionRow, bool) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID {
		return row, false
	}
	return row, row.State == model.SessionStatePending || row.State == model.SessionStateStarted
}

func (r *memSessionRepo) UpdateProgress(_ context.Context, params model.UpdateStudySessionParams) (*model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStoreDown
	}
	row, ok := r.open(params.ID, params.UserID)
	if !ok {
		return nil, nil
	}
	row.Items, _ = json.Marshal(params.Items)
	row.State = params.State
	if row.StartedAt == nil {
		row.StartedAt = params.StartedAt
	}
	now := r.now()
	row.UpdatedAt = &now
	r.rows[row.ID] = row
	return &row, nil
}

func (r *memSessionRepo) MarkCompleted(_ context.Context, id, userID string, xpEarned int, endedAt time.Time) (*model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.open(id, userID)
	if !ok {
		return nil, nil
	}
	row.State = model.SessionStateCompleted
	row.XPEarned = &xpEarned
	row.EndedAt = &endedAt
	if row.StartedAt == nil {
		row.StartedAt = &endedAt
	}
	r.rows[id] = row
	return &row, nil
}

func (r *memSessionRepo) MarkCancelled(_ context.Context, id, userID string, endedAt time.Time) (*model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.open(id, userID)
	if !ok {
		return nil, nil
	}
	row.State = model.SessionStateCancelled
	row.EndedAt = &endedAt
	r.rows[id] = row
	return &row, nil
}

func (r *memSessionRepo) sorted(userID string, keep func(model.StudySessionRow) bool) []model.StudySessionRow {
	var out []model.StudySessionRow
	for _, row := range r.rows {
		if row.UserID == userID && keep(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memSessionRepo) ListByUserID(_ context.Context, userID string, limit, offset int) ([]model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(userID, func(model.StudySessionRow) bool { return true })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSessionRepo) ListCompletedSince(_ context.Context, userID string, since time.Time) ([]model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(userID, func(row model.StudySessionRow) bool {
		if row.State != model.SessionStateCompleted {
			return false
		}
		finished := row.CreatedAt
		if row.EndedAt != nil {
			finished = *row.EndedAt
		}
		return !finished.Before(since)
	}), nil
}

func (r *memSessionRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sorted(userID, func(model.StudySessionRow) bool { return true })), nil
}

func (r *memSessionRepo) CancelStale(_ context.Context, createdBefore, endedAt time.Time) ([]model.StudySessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StudySessionRow
	for id, row := range r.rows {
		if (row.State == model.SessionStatePending || row.State == model.SessionStateStarted) && row.CreatedAt.Before(createdBefore) {
			row.State = model.SessionStateCancelled
			row.EndedAt = &endedAt
			r.rows[id] = row
			out = append(out, row)
		}
	}
	return out, nil
}

// memXPRepo enforces the (user, source, reason, session_id) uniqueness that
// the database index provides.
type memXPRepo struct {
	mu         sync.Mutex
	events     []model.XPEvent
	now        func() time.Time
	failLookup bool
	failSum    bool
	failInsert bool
	locks      int
}

func newMemXPRepo(now func() time.Time) *memXPRepo {
	return &memXPRepo{now: now}
}

func (r *memXPRepo) WithTx(*sqlx.Tx) repository.XPEventRepository { return r }

func (r *memXPRepo) LockUser(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks++
	return nil
}

func sessionIDOf(event model.XPEvent) string {
	var meta model.XPEventMetadata
	_ = json.Unmarshal(event.Metadata, &meta)
	return meta.SessionID
}

func (r *memXPRepo) find(userID, sessionID string) *model.XPEvent {
	for _, event := range r.events {
		if event.UserID == userID &&
			event.Source == model.XPSourceStudyBuddy &&
			event.Reason == model.XPReasonStudySessionComplete &&
			sessionIDOf(event) == sessionID {
			found := event
			return &found
		}
	}
	return nil
}

func (r *memXPRepo) FindSessionAward(_ context.Context, userID, sessionID string) (*model.XPEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLookup {
		return nil, errStoreDown
	}
	return r.find(userID, sessionID), nil
}

func (r *memXPRepo) SumPoints(_ context.Context, userID, source string, start, end time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSum {
		return 0, errStoreDown
	}
	total := 0
	for _, event := range r.events {
		if event.UserID == userID && event.Source == source &&
			!event.CreatedAt.Before(start) && event.CreatedAt.Before(end) {
			total += event.Points
		}
	}
	return total, nil
}

func (r *memXPRepo) InsertIfAbsent(_ context.Context, params model.CreateXPEventParams) (*model.XPEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsert {
		return nil, errStoreDown
	}
	if r.find(params.UserID, params.Metadata.SessionID) != nil {
		return nil, nil
	}
	meta, _ := json.Marshal(params.Metadata)
	event := model.XPEvent{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Source:    params.Source,
		Points:    params.Points,
		Reason:    params.Reason,
		Metadata:  meta,
		CreatedAt: r.now(),
	}
	r.events = append(r.events, event)
	return &event, nil
}

// seed records a prior award for another session.
func (r *memXPRepo) seed(userID string, points int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, _ := json.Marshal(model.XPEventMetadata{SessionID: uuid.NewString()})
	r.events = append(r.events, model.XPEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Source:    model.XPSourceStudyBuddy,
		Points:    points,
		Reason:    model.XPReasonStudySessionComplete,
		Metadata:  meta,
		CreatedAt: at,
	})
}

func (r *memXPRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type inlineTx struct{}

func (inlineTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

// failingTx reports err as a commit failure after fn succeeds.
type failingTx struct{ err error }

func (t failingTx) WithTx(_ context.Context, fn database.TxFunc) error {
	if err := fn(nil); err != nil {
		return err
	}
	return t.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func karachi() *time.Location {
	loc, err := time.LoadLocation("Asia/Karachi")
	if err != nil {
		return time.FixedZone("PKT", 5*60*60)
	}
	return loc
}

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }
