package consultation

import (
	"bytes"
	"sort"
)

var priorityRank = map[Priority]int{
	PriorityEmergency: 0,
	PriorityUrgent:    1,
	PriorityRoutine:   2,
}

// SortPendingPool orders requests by priority rank and, within a rank,
// oldest request first. The id breaks exact timestamp ties so the order is
// total.
func SortPendingPool(cs []*Consultation) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]; ra != rb {
			return ra < rb
		}
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.Before(b.RequestedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
