package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gramorx/studybuddy-server/internal/database"
	"github.com/gramorx/studybuddy-server/internal/model"
)

type StudySessionRepository interface {
	FindByID(ctx context.Context, id, userID string) (*model.StudySessionRow, error)
	// FindByIDForUpdate row-locks the session until the surrounding
	// transaction ends. Outside a transaction the lock is released at once.
	FindByIDForUpdate(ctx context.Context, id, userID string) (*model.StudySessionRow, error)
	Create(ctx context.Context, params model.CreateStudySessionParams) (*model.StudySessionRow, error)
	ListCreatedBetween(ctx context.Context, userID string, start, end time.Time, states []model.SessionState) ([]model.StudySessionRow, error)
	UpdateProgress(ctx context.Context, params model.UpdateStudySessionParams) (*model.StudySessionRow, error)
	MarkCompleted(ctx context.Context, id, userID string, xpEarned int, endedAt time.Time) (*model.StudySessionRow, error)
	MarkCancelled(ctx context.Context, id, userID string, endedAt time.Time) (*model.StudySessionRow, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]model.StudySessionRow, error)
	ListCompletedSince(ctx context.Context, userID string, since time.Time) ([]model.StudySessionRow, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	CancelStale(ctx context.Context, createdBefore, endedAt time.Time) ([]model.StudySessionRow, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) StudySessionRepository
}

type studySessionRepo struct {
	db database.DBTX
}

func NewStudySessionRepository(db *sqlx.DB) StudySessionRepository {
	return &studySessionRepo{db: db}
}

func (r *studySessionRepo) WithTx(tx *sqlx.Tx) StudySessionRepository {
	return &studySessionRepo{db: tx}
}

func (r *studySessionRepo) FindByID(ctx context.Context, id, userID string) (*model.StudySessionRow, error) {
	var row model.StudySessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM study_buddy_sessions WHERE id = $1 AND user_id = $2
	`, id, userID)
	return HandleNotFound(&row, err)
}

func (r *studySessionRepo) FindByIDForUpdate(ctx context.Context, id, userID string) (*model.StudySessionRow, error) {
	var row model.StudySessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM study_buddy_sessions WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, id, userID)
	return HandleNotFound(&row, err)
}

func (r *studySessionRepo) Create(ctx context.Context, params model.CreateStudySessionParams) (*model.StudySessionRow, error) {
	items, err := encodeItems(params.Items)
	if err != nil {
		return nil, err
	}

	var row model.StudySessionRow
	err = r.db.GetContext(ctx, &row, `
		INSERT INTO study_buddy_sessions (id, user_id, items, state, duration_minutes, ai_plan_id, xp_earned)
		VALUES ($1, $2, $3, 'pending', $4, $5, 0)
		RETURNING *
	`, params.ID, params.UserID, items, params.DurationMinutes, params.AIPlanID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *studySessionRepo) ListCreatedBetween(
	ctx context.Context,
	userID string,
	start, end time.Time,
	states []model.SessionState,
) ([]model.StudySessionRow, error) {
	var rows []model.StudySessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM study_buddy_sessions
		WHERE user_id = $1
		AND created_at >= $2
		AND created_at < $3
		AND state = ANY($4)
	`, userID, start, end, pq.Array(stateStrings(states)))
	return rows, err
}

// UpdateProgress writes items and state unless the session has already been
// closed. A nil row means nothing matched.
func (r *studySessionRepo) UpdateProgress(ctx context.Context, params model.UpdateStudySessionParams) (*model.StudySessionRow, error) {
	items, err := encodeItems(params.Items)
	if err != nil {
		return nil, err
	}

	var row model.StudySessionRow
	err = r.db.GetContext(ctx, &row, `
		UPDATE study_buddy_sessions SET
			items = $3,
			state = $4,
			started_at = COALESCE(started_at, $5),
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		AND state IN ('pending', 'started')
		RETURNING *
	`, params.ID, params.UserID, items, params.State, params.StartedAt)
	return HandleNotFound(&row, err)
}

func (r *studySessionRepo) MarkCompleted(ctx context.Context, id, userID string, xpEarned int, endedAt time.Time) (*model.StudySessionRow, error) {
	var row model.StudySessionRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE study_buddy_sessions SET
			state = 'completed',
			xp_earned = $3,
			ended_at = $4,
			started_at = COALESCE(started_at, $4),
			updated_at = $4
		WHERE id = $1 AND user_id = $2
		AND state IN ('pending', 'started')
		RETURNING *
	`, id, userID, xpEarned, endedAt)
	return HandleNotFound(&row, err)
}

func (r *studySessionRepo) MarkCancelled(ctx context.Context, id, userID string, endedAt time.Time) (*model.StudySessionRow, error) {
	var row model.StudySessionRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE study_buddy_sessions SET
			state = 'cancelled',
			ended_at = $3,
			updated_at = $3
		WHERE id = $1 AND user_id = $2
		AND state IN ('pending', 'started')
		RETURNING *
	`, id, userID, endedAt)
	return HandleNotFound(&row, err)
}

func (r *studySessionRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]model.StudySessionRow, error) {
	var rows []model.StudySessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM study_buddy_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return rows, err
}

func (r *studySessionRepo) ListCompletedSince(ctx context.Context, userID string, since time.Time) ([]model.StudySessionRow, error) {
	var rows []model.StudySessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM study_buddy_sessions
		WHERE user_id = $1
		AND state = 'completed'
		AND COALESCE(ended_at, created_at) >= $2
		ORDER BY COALESCE(ended_at, created_at) DESC
	`, userID, since)
	return rows, err
}

func (r *studySessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM study_buddy_sessions WHERE user_id = $1
	`, userID)
	return count, err
}

func (r *studySessionRepo) CancelStale(ctx context.Context, createdBefore, endedAt time.Time) ([]model.StudySessionRow, error) {
	var rows []model.StudySessionRow
	err := r.db.SelectContext(ctx, &rows, `
		UPDATE study_buddy_sessions SET
			state = 'cancelled',
			ended_at = $2,
			updated_at = $2
		WHERE state IN ('pending', 'started')
		AND created_at < $1
		RETURNING *
	`, createdBefore, endedAt)
	return rows, err
}

func encodeItems(items []model.StudyItem) (string, error) {
	if items == nil {
		items = []model.StudyItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(data), nil
}

func stateStrings(states []model.SessionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
