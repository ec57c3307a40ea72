package schedule

import (
	"strings"
	"time"

	"klaxon/internal/logger"
	"klaxon/internal/models"
)

// IsEligible reports whether a policy may fire at the given instant: the
// policy must be enabled and, when it carries time windows, the instant
// must fall inside at least one of them. A policy with no windows is
// always eligible.
func IsEligible(p *models.Policy, now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if len(p.Windows) == 0 {
		return true
	}
	for _, w := range p.Windows {
		if windowContains(w, now) {
			return true
		}
	}
	return false
}

// windowContains checks [start, end) membership in the window's timezone.
// A window whose end is not after its start wraps past midnight: the
// evening leg belongs to the weekday the window started on, the morning
// leg to the day after. A malformed window never matches.
func windowContains(w models.TimeWindow, now time.Time) bool {
	log := logger.WithComponent("schedule")

	loc := time.UTC
	if w.Timezone != "" {
		l, err := time.LoadLocation(w.Timezone)
		if err != nil {
			log.Warn().
				Err(err).
				Str("timezone", w.Timezone).
				Msg("unknown time window timezone")
			return false
		}
		loc = l
	}

	start, err := parseClock(w.Start)
	if err != nil {
		log.Warn().
			Err(err).
			Str("start", w.Start).
			Msg("malformed time window start")
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		log.Warn().
			Err(err).
			Str("end", w.End).
			Msg("malformed time window end")
		return false
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return dayMatches(w.Days, local.Weekday()) && minute >= start && minute < end
	}
	if start == end {
		// Zero-length window
		return false
	}

	// Wrapped window
	if minute >= start {
		return dayMatches(w.Days, local.Weekday())
	}
	if minute < end {
		prev := time.Weekday((int(local.Weekday()) + 6) % 7)
		return dayMatches(w.Days, prev)
	}
	return false
}

// dayMatches treats an empty day set as every day
func dayMatches(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" to minutes since midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
