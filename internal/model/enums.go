package model

type SessionState string

const (
	SessionStatePending   SessionState = "pending"
	SessionStateStarted   SessionState = "started"
	SessionStateCompleted SessionState = "completed"
	SessionStateCancelled SessionState = "cancelled"
)

// CountedSessionStates are the states whose planned minutes count against
// the daily allowance. Cancelled sessions release their budget.
var CountedSessionStates = []SessionState{
	SessionStatePending,
	SessionStateStarted,
	SessionStateCompleted,
}

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusStarted   ItemStatus = "started"
	ItemStatusCompleted ItemStatus = "completed"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusStarted, ItemStatusCompleted:
		return true
	}
	return false
}

type PlanID string

const (
	PlanFree    PlanID = "free"
	PlanStarter PlanID = "starter"
	PlanBooster PlanID = "booster"
	PlanMaster  PlanID = "master"
)

// ParsePlanID resolves a plan identifier, falling back to the free tier for
// anything unrecognised.
func ParsePlanID(s string) PlanID {
	switch PlanID(s) {
	case PlanFree, PlanStarter, PlanBooster, PlanMaster:
		return PlanID(s)
	}
	return PlanFree
}

const (
	XPSourceStudyBuddy           = "study_buddy"
	XPReasonStudySessionComplete = "study_session_completed"
)
