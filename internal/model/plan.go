package model

// PlanPolicy holds the per-tier daily allowances. A nil entry, or a tier
// missing from the map, means the tier is unlimited.
type PlanPolicy struct {
	DailyMinutes map[PlanID]*int
	DailyXPCap   map[PlanID]*int
}

func DefaultPlanPolicy() PlanPolicy {
	return PlanPolicy{
		DailyMinutes: map[PlanID]*int{
			PlanFree:    intPtr(45),
			PlanStarter: intPtr(180),
			PlanBooster: nil,
			PlanMaster:  nil,
		},
		DailyXPCap: map[PlanID]*int{
			PlanFree:    intPtr(180),
			PlanStarter: nil,
			PlanBooster: nil,
			PlanMaster:  nil,
		},
	}
}

// MinutesAllowance returns the daily minute allowance for plan and whether
// one applies at all.
func (p PlanPolicy) MinutesAllowance(plan PlanID) (int, bool) {
	return lookup(p.DailyMinutes, plan)
}

// XPCap returns the daily XP ceiling for plan and whether one applies.
func (p PlanPolicy) XPCap(plan PlanID) (int, bool) {
	return lookup(p.DailyXPCap, plan)
}

func lookup(m map[PlanID]*int, plan PlanID) (int, bool) {
	v, ok := m[plan]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

func intPtr(v int) *int { return &v }
