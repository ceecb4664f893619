package serial

import (
	"sort"
	"time"
)

const (
	failurePenalty     = 10
	warrantyExpiringIn = 30 * 24 * time.Hour
)

// compatibilityScore grades a unit 0-100 from its rating base minus a
// penalty per recorded failure.
func compatibilityScore(u Unit) int {
	base := 50
	switch u.Rating {
	case RatingExcellent:
		base = 100
	case RatingGood:
		base = 85
	case RatingFair:
		base = 70
	case RatingPoor:
		base = 50
	}
	score := base - u.FailureCount*failurePenalty
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// annotate derives the availability label shown on allocation screens.
// Units outside AVAILABLE are selectable in no case, so that flag wins over
// any warranty state.
func annotate(u Unit, now time.Time) Availability {
	if u.Status != StatusAvailable {
		return AvailabilityNotAvailable
	}
	if !u.WarrantyEnd.IsZero() {
		if u.WarrantyEnd.Before(now) {
			return AvailabilityWarrantyExpired
		}
		if u.WarrantyEnd.Sub(now) <= warrantyExpiringIn {
			return AvailabilityWarrantyExpiring
		}
	}
	return AvailabilityOK
}

// rankCandidates annotates and orders units for selection: AVAILABLE status
// first, then higher score, then longer remaining warranty. The warranty
// annotation only labels a unit, it never demotes one below a reserved unit.
func rankCandidates(units []Unit, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(units))
	for _, u := range units {
		out = append(out, Candidate{
			Unit:         u,
			Availability: annotate(u, now),
			Score:        compatibilityScore(u),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOK := a.Unit.Status == StatusAvailable
		bOK := b.Unit.Status == StatusAvailable
		if aOK != bOK {
			return aOK
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.WarrantyEnd.After(b.WarrantyEnd)
	})
	return out
}
