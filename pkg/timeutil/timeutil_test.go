package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysBetween_UsesLocationCalendar(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)

	// 20:00 UTC on the 1st is already the 2nd in Almaty.
	a := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(a, b, time.UTC))
	assert.Equal(t, 0, DaysBetween(a, b, almaty))
	assert.True(t, IsSameDay(a, b, almaty))
}

func TestDaysBetween_Signed(t *testing.T) {
	a := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, -3, DaysBetween(a, b, time.UTC))
	assert.Equal(t, 3, DaysBetween(b, a, time.UTC))
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	before := time.Date(2024, 3, 9, 12, 0, 0, 0, ny)
	after := time.Date(2024, 3, 11, 0, 30, 0, 0, ny)
	assert.Equal(t, 2, DaysBetween(before, after, ny))
}

func TestStartOfWeek(t *testing.T) {
	sunday := time.Date(2024, 6, 9, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), StartOfWeek(sunday, time.UTC))

	monday := time.Date(2024, 6, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), StartOfWeek(monday, nil))
}

func TestLoadLocation_FallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}
