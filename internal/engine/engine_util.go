package engine

func NewEmptyState(rules Rules) State {
	if rules.MaxCombatants <= 0 {
		rules.MaxCombatants = DefaultMaxCombatants
	}
	return State{
		Roster: NewRoster(rules.MaxCombatants),
		Turn:   NewSequencer(),
		Rules:  rules,
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}
