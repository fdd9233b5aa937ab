package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gramorx/studybuddy-server/internal/database"
	"github.com/gramorx/studybuddy-server/internal/model"
)

type XPEventRepository interface {
	FindSessionAward(ctx context.Context, userID, sessionID string) (*model.XPEvent, error)
	SumPoints(ctx context.Context, userID, source string, start, end time.Time) (int, error)
	// InsertIfAbsent returns nil without error when a row with the same
	// (user, source, reason, session_id) key already exists.
	InsertIfAbsent(ctx context.Context, params model.CreateXPEventParams) (*model.XPEvent, error)
	// LockUser serialises awards for one user until the surrounding
	// transaction ends. It is a no-op outside a transaction.
	LockUser(ctx context.Context, userID string) error
	WithTx(tx *sqlx.Tx) XPEventRepository
}

type xpEventRepo struct {
	db database.DBTX
}

func NewXPEventRepository(db *sqlx.DB) XPEventRepository {
	return &xpEventRepo{db: db}
}

func (r *xpEventRepo) WithTx(tx *sqlx.Tx) XPEventRepository {
	return &xpEventRepo{db: tx}
}

func (r *xpEventRepo) FindSessionAward(ctx context.Context, userID, sessionID string) (*model.XPEvent, error) {
	var event model.XPEvent
	err := r.db.GetContext(ctx, &event, `
		SELECT * FROM user_xp_events
		WHERE user_id = $1
		AND source = $2
		AND reason = $3
		AND metadata->>'session_id' = $4
		LIMIT 1
	`, userID, model.XPSourceStudyBuddy, model.XPReasonStudySessionComplete, sessionID)
	return HandleNotFound(&event, err)
}

func (r *xpEventRepo) SumPoints(ctx context.Context, userID, source string, start, end time.Time) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(points), 0) FROM user_xp_events
		WHERE user_id = $1
		AND source = $2
		AND created_at >= $3
		AND created_at < $4
	`, userID, source, start, end)
	return total, err
}

func (r *xpEventRepo) InsertIfAbsent(ctx context.Context, params model.CreateXPEventParams) (*model.XPEvent, error) {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var event model.XPEvent
	err = r.db.GetContext(ctx, &event, `
		INSERT INTO user_xp_events (id, user_id, source, points, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, source, reason, (metadata->>'session_id')) DO NOTHING
		RETURNING *
	`, uuid.NewString(), params.UserID, params.Source, params.Points, params.Reason, string(metadata))
	return HandleNotFound(&event, err)
}

func (r *xpEventRepo) LockUser(ctx context.Context, userID string) error {
	if _, ok := r.db.(*sqlx.Tx); !ok {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}
