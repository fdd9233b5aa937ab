package model

import (
	"encoding/json"
	"time"
)

type XPEvent struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"userId"`
	Source    string          `db:"source" json:"source"`
	Points    int             `db:"points" json:"points"`
	Reason    string          `db:"reason" json:"reason"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

type XPEventMetadata struct {
	SessionID       string `json:"session_id"`
	Minutes         int    `json:"minutes"`
	RequestedPoints int    `json:"requested_points"`
}

type CreateXPEventParams struct {
	UserID   string
	Source   string
	Points   int
	Reason   string
	Metadata XPEventMetadata
}
