package service

import (
	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/model"
)

// AssertTransition checks that moving item index to status respects the
// strict in-order progression of a session.
func AssertTransition(session *model.StudySession, index int, status model.ItemStatus) error {
	if index < 0 || index >= len(session.Items) {
		return apperrors.InvalidIndex(index, len(session.Items))
	}

	if status == model.ItemStatusPending && session.Items[index].Status == model.ItemStatusPending {
		return nil
	}

	if session.State == model.SessionStateCompleted {
		return apperrors.SessionCompleted()
	}

	current := ActiveItemIndex(session.Items)

	if status == model.ItemStatusStarted && index > current {
		return apperrors.OutOfOrderStart(index, current)
	}

	if status == model.ItemStatusCompleted && index != current {
		return apperrors.OutOfOrderComplete(index, current)
	}

	return nil
}

// ApplyItemStatus returns a copy of session with one item's status (and
// optionally note) replaced. The input is left untouched.
func ApplyItemStatus(session model.StudySession, index int, status model.ItemStatus, note *string) model.StudySession {
	items := make([]model.StudyItem, len(session.Items))
	copy(items, session.Items)

	target := items[index]
	target.Status = status
	if note != nil {
		target.Note = trimText(*note)
	}
	items[index] = target

	session.Items = items
	return session
}
