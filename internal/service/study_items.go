package service

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gramorx/studybuddy-server/internal/model"
)

const (
	MaxStudyItems      = 8
	MaxItemMinutes     = 240
	DefaultItemMinutes = 5
	maxTextRunes       = 160
	defaultSkill       = "General"
)

// SanitizeItems turns untrusted JSON into at most MaxStudyItems well-formed
// items. Anything that is not a JSON array yields an empty list.
func SanitizeItems(raw json.RawMessage) []model.StudyItem {
	items := []model.StudyItem{}
	if len(raw) == 0 {
		return items
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return items
	}
	list, ok := decoded.([]any)
	if !ok {
		return items
	}
	if len(list) > MaxStudyItems {
		list = list[:MaxStudyItems]
	}

	for _, entry := range list {
		// Non-object entries still produce an item built from defaults.
		fields, _ := entry.(map[string]any)

		skill := defaultSkill
		if s := sanitizeText(fields["skill"]); s != nil {
			skill = *s
		}

		status := model.ItemStatusPending
		if s, ok := fields["status"].(string); ok {
			switch model.ItemStatus(s) {
			case model.ItemStatusStarted, model.ItemStatusCompleted:
				status = model.ItemStatus(s)
			}
		}

		items = append(items, model.StudyItem{
			Skill:   skill,
			Minutes: clampMinutes(fields["minutes"], DefaultItemMinutes),
			Topic:   sanitizeText(fields["topic"]),
			Status:  status,
			Note:    sanitizeText(fields["note"]),
		})
	}
	return items
}

// clampMinutes accepts JSON numbers and numeric strings, rounds half up and
// caps at MaxItemMinutes. Anything else, negatives and non-finite values
// fall back.
func clampMinutes(value any, fallback int) int {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	default:
		return fallback
	}
	return clampFloat(f, fallback)
}

func clampFloat(f float64, fallback int) int {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return fallback
	}
	rounded := math.Floor(f + 0.5)
	if rounded > MaxItemMinutes {
		return MaxItemMinutes
	}
	return int(rounded)
}

func clampInt(v, fallback int) int {
	return clampFloat(float64(v), fallback)
}

func sanitizeText(value any) *string {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	return trimText(s)
}

func trimText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if runes := []rune(s); len(runes) > maxTextRunes {
		s = string(runes[:maxTextRunes])
	}
	return &s
}

// HydrateSession converts a stored row into a session with sanitized items.
func HydrateSession(row *model.StudySessionRow) *model.StudySession {
	if row == nil {
		return nil
	}

	session := &model.StudySession{
		ID:        row.ID,
		UserID:    row.UserID,
		Items:     SanitizeItems(row.Items),
		State:     row.State,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
		AIPlanID:  row.AIPlanID,
	}
	if row.XPEarned != nil {
		session.XPEarned = *row.XPEarned
	}
	if row.DurationMinutes != nil {
		d := clampInt(*row.DurationMinutes, 0)
		session.DurationMinutes = &d
	}
	return session
}

// ComputeDuration sums item minutes, optionally counting completed items only.
func ComputeDuration(items []model.StudyItem, onlyCompleted bool) int {
	total := 0
	for _, item := range items {
		if onlyCompleted && item.Status != model.ItemStatusCompleted {
			continue
		}
		total += clampInt(item.Minutes, 0)
	}
	return total
}

// ActiveItemIndex returns the first item that is not completed, or
// len(items) when every item is done.
func ActiveItemIndex(items []model.StudyItem) int {
	for i, item := range items {
		if item.Status != model.ItemStatusCompleted {
			return i
		}
	}
	return len(items)
}

// PlannedMinutes prefers the stored duration and derives it from the items
// when unset.
func PlannedMinutes(session *model.StudySession) int {
	if session.DurationMinutes != nil && *session.DurationMinutes > 0 {
		return *session.DurationMinutes
	}
	return ComputeDuration(session.Items, false)
}
