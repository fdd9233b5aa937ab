package model

import (
	"encoding/json"
	"time"
)

type StudyItem struct {
	Skill   string     `json:"skill"`
	Minutes int        `json:"minutes"`
	Topic   *string    `json:"topic"`
	Status  ItemStatus `json:"status"`
	Note    *string    `json:"note"`
}

// StudySessionRow mirrors study_buddy_sessions. Items are stored as JSONB and
// are untrusted until hydrated.
type StudySessionRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	Items           json.RawMessage `db:"items"`
	State           SessionState    `db:"state"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       *time.Time      `db:"updated_at"`
	StartedAt       *time.Time      `db:"started_at"`
	EndedAt         *time.Time      `db:"ended_at"`
	DurationMinutes *int            `db:"duration_minutes"`
	AIPlanID        *string         `db:"ai_plan_id"`
	XPEarned        *int            `db:"xp_earned"`
}

type StudySession struct {
	ID              string       `json:"id"`
	UserID          string       `json:"userId"`
	Items           []StudyItem  `json:"items"`
	State           SessionState `json:"state"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       *time.Time   `json:"updatedAt,omitempty"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	EndedAt         *time.Time   `json:"endedAt,omitempty"`
	DurationMinutes *int         `json:"durationMinutes"`
	AIPlanID        *string      `json:"aiPlanId,omitempty"`
	XPEarned        int          `json:"xpEarned"`
}

type CreateStudySessionParams struct {
	ID              string
	UserID          string
	Items           []StudyItem
	DurationMinutes int
	AIPlanID        *string
}

type UpdateStudySessionParams struct {
	ID        string
	UserID    string
	Items     []StudyItem
	State     SessionState
	StartedAt *time.Time
}
