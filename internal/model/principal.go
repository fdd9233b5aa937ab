package model

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Plan   PlanID
}
