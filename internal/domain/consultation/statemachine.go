package consultation

import "time"

// transitions lists every permitted edge. Anything else is a conflict.
var transitions = map[Status][]Status{
	StatusRequested:  {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Duration returns the consultation length in whole minutes, rounded to
// the nearest minute with half-minutes rounding up. When completed precedes
// started (clock skew between nodes) it returns 0 and anomaly=true.
func Duration(started, completed time.Time) (minutes int, anomaly bool) {
	d := completed.Sub(started)
	if d < 0 {
		return 0, true
	}
	return int((d + 30*time.Second) / time.Minute), false
}
