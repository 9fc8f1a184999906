package encounter

import "sort"

// urgencyRank orders urgency levels most urgent first.
var urgencyRank = map[Urgency]int{
	UrgencyCritical: 0,
	UrgencyHigh:     1,
	UrgencyMedium:   2,
	UrgencyLow:      3,
}

// UrgentLevels are the levels the urgent list includes.
var UrgentLevels = []Urgency{UrgencyCritical, UrgencyHigh}

// SortUrgent orders encounters by urgency rank, then by encounter date with
// the most recent first, then by id. Unlike the consultation pending pool,
// the date tie-break is most-recent-first.
func SortUrgent(encs []*Encounter) {
	sort.SliceStable(encs, func(i, j int) bool {
		a, b := encs[i], encs[j]
		if ra, rb := urgencyRank[a.UrgencyLevel], urgencyRank[b.UrgencyLevel]; ra != rb {
			return ra < rb
		}
		if !a.EncounterDate.Equal(b.EncounterDate) {
			return a.EncounterDate.After(b.EncounterDate)
		}
		return a.ID.String() < b.ID.String()
	})
}
