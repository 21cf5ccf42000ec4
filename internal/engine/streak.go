package engine

import "github.com/Craig-0219/potato-autoA/internal/report"

// FailureStreak reports whether the last threshold recipients whose steps
// actually ran all failed. Skipped, deferred and not-attempted recipients
// neither extend nor break a streak. A threshold of zero disables it.
func FailureStreak(history []report.RecipientOutcome, threshold int) bool {
	if threshold <= 0 {
		return false
	}

	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Status {
		case report.StatusFailed:
			n++
			if n >= threshold {
				return true
			}
		case report.StatusSuccess:
			return false
		}
	}
	return false
}

// Progress returns how many recipients reached a final status (success,
// failed or skipped) and how many were recorded in total.
func Progress(history []report.RecipientOutcome) (done, total int) {
	total = len(history)
	for _, o := range history {
		switch o.Status {
		case report.StatusSuccess, report.StatusFailed, report.StatusSkipped:
			done++
		}
	}
	return done, total
}

// SuccessRate returns the fraction of attempted recipients that succeeded.
func SuccessRate(history []report.RecipientOutcome) float64 {
	var ok, attempted int
	for _, o := range history {
		switch o.Status {
		case report.StatusSuccess:
			ok++
			attempted++
		case report.StatusFailed:
			attempted++
		}
	}
	if attempted == 0 {
		return 0
	}
	return float64(ok) / float64(attempted)
}
