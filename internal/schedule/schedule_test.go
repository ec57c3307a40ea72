package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"klaxon/internal/models"
)

func policyWithWindows(windows ...models.TimeWindow) *models.Policy {
	return &models.Policy{
		ID:       "pol-1",
		Enabled:  true,
		Severity: models.SeverityHigh,
		Windows:  windows,
	}
}

func TestIsEligibleNoWindows(t *testing.T) {
	p := policyWithWindows()
	assert.True(t, IsEligible(p, time.Now()))
}

func TestIsEligibleDisabled(t *testing.T) {
	p := policyWithWindows()
	p.Enabled = false
	assert.False(t, IsEligible(p, time.Now()))
}

func TestIsEligibleBusinessHours(t *testing.T) {
	window := models.TimeWindow{
		Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Start: "09:00",
		End:   "17:00",
	}
	p := policyWithWindows(window)

	// Monday 2024-03-11
	monday := func(hour, min int) time.Time {
		return time.Date(2024, 3, 11, hour, min, 0, 0, time.UTC)
	}

	assert.True(t, IsEligible(p, monday(9, 0)), "start boundary is inclusive")
	assert.True(t, IsEligible(p, monday(12, 30)))
	assert.True(t, IsEligible(p, monday(16, 59)))
	assert.False(t, IsEligible(p, monday(17, 0)), "end boundary is exclusive")
	assert.False(t, IsEligible(p, monday(8, 59)))

	// Saturday 2024-03-16 is outside the day set
	saturday := time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC)
	assert.False(t, IsEligible(p, saturday))
}

func TestIsEligibleWrappedWindow(t *testing.T) {
	// Friday night shift: 22:00 Friday through 06:00 Saturday
	window := models.TimeWindow{
		Days:  []time.Weekday{time.Friday},
		Start: "22:00",
		End:   "06:00",
	}
	p := policyWithWindows(window)

	// Friday 2024-03-15
	friday := func(hour, min int) time.Time {
		return time.Date(2024, 3, 15, hour, min, 0, 0, time.UTC)
	}
	// Saturday 2024-03-16
	saturday := func(hour, min int) time.Time {
		return time.Date(2024, 3, 16, hour, min, 0, 0, time.UTC)
	}

	assert.True(t, IsEligible(p, friday(22, 0)), "evening leg starts Friday")
	assert.True(t, IsEligible(p, friday(23, 59)))
	assert.True(t, IsEligible(p, saturday(3, 0)), "morning leg belongs to the Friday window")
	assert.True(t, IsEligible(p, saturday(5, 59)))
	assert.False(t, IsEligible(p, saturday(6, 0)), "end of the morning leg is exclusive")
	assert.False(t, IsEligible(p, friday(21, 59)))
	assert.False(t, IsEligible(p, saturday(22, 30)), "Saturday evening is not in the Friday window")
}

func TestIsEligibleTimezone(t *testing.T) {
	// 09:00-17:00 New York time
	window := models.TimeWindow{
		Days:     []time.Weekday{time.Monday},
		Start:    "09:00",
		End:      "17:00",
		Timezone: "America/New_York",
	}
	p := policyWithWindows(window)

	// Monday 2024-03-11 15:00 UTC is 11:00 in New York (EDT): inside
	assert.True(t, IsEligible(p, time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)))

	// Monday 2024-03-11 12:00 UTC is 08:00 in New York: outside
	assert.False(t, IsEligible(p, time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)))

	// Tuesday 2024-03-12 01:00 UTC is still Monday 21:00 in New York,
	// outside the clock range
	assert.False(t, IsEligible(p, time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)))
}

func TestIsEligibleEmptyDaySet(t *testing.T) {
	window := models.TimeWindow{Start: "00:00", End: "12:00"}
	p := policyWithWindows(window)

	// Every day matches when no days are listed
	assert.True(t, IsEligible(p, time.Date(2024, 3, 16, 6, 0, 0, 0, time.UTC)))
	assert.True(t, IsEligible(p, time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)))
	assert.False(t, IsEligible(p, time.Date(2024, 3, 11, 13, 0, 0, 0, time.UTC)))
}

func TestIsEligibleAnyWindowSuffices(t *testing.T) {
	morning := models.TimeWindow{Start: "06:00", End: "08:00"}
	evening := models.TimeWindow{Start: "18:00", End: "20:00"}
	p := policyWithWindows(morning, evening)

	assert.True(t, IsEligible(p, time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC)))
	assert.True(t, IsEligible(p, time.Date(2024, 3, 11, 19, 0, 0, 0, time.UTC)))
	assert.False(t, IsEligible(p, time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)))
}

func TestIsEligibleMalformedWindow(t *testing.T) {
	badTz := models.TimeWindow{Start: "09:00", End: "17:00", Timezone: "Mars/Olympus"}
	badStart := models.TimeWindow{Start: "9am", End: "17:00"}
	badEnd := models.TimeWindow{Start: "09:00", End: "5pm"}
	zeroLength := models.TimeWindow{Start: "09:00", End: "09:00"}

	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)

	assert.False(t, IsEligible(policyWithWindows(badTz), now))
	assert.False(t, IsEligible(policyWithWindows(badStart), now))
	assert.False(t, IsEligible(policyWithWindows(badEnd), now))
	assert.False(t, IsEligible(policyWithWindows(zeroLength), now))

	// A malformed window does not poison a valid sibling
	valid := models.TimeWindow{Start: "00:00", End: "23:59"}
	assert.True(t, IsEligible(policyWithWindows(badTz, valid), now))
}
