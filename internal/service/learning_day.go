package service

import "time"

// LearningDay is the half-open [Start, End) window of one calendar day in the
// reference timezone. Start and End are in UTC.
type LearningDay struct {
	Start time.Time
	End   time.Time
	Day   string
}

func LearningDayWindow(now time.Time, loc *time.Location) LearningDay {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return LearningDay{
		Start: start.UTC(),
		End:   end.UTC(),
		Day:   start.Format(time.DateOnly),
	}
}

func (d LearningDay) StartISO() string {
	return d.Start.Format(time.RFC3339)
}

func (d LearningDay) EndISO() string {
	return d.End.Format(time.RFC3339)
}

func (d LearningDay) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}
