package accrual

import "time"

const (
	// CycleLength is the number of days in a cycle, the pause day included.
	CycleLength = 9
	// AccrualDaysPerCycle is the number of days of a cycle that pay a benefit.
	AccrualDaysPerCycle = CycleLength - 1
)

// Position locates a calendar day inside the cycles of a purchase.
type Position struct {
	// Day counts from 1, the calendar day after activation.
	Day         int
	CycleNumber int
	DayInCycle  int
}

// PauseDay reports whether the day is the last, benefit-free day of its cycle.
func (p Position) PauseDay() bool {
	return p.DayInCycle == CycleLength
}

// AccrualDay is the ordinal of the day among all benefit-paying days.
func (p Position) AccrualDay() int {
	return (p.CycleNumber-1)*AccrualDaysPerCycle + p.DayInCycle
}

// AccrualDaysBefore counts the benefit-paying days among days 1 to n-1.
func AccrualDaysBefore(n int) int {
	if n <= 1 {
		return 0
	}
	m := n - 1
	return m/CycleLength*AccrualDaysPerCycle + m%CycleLength
}

// Locate returns the position of day for a purchase activated at activatedAt.
// Days are compared as UTC calendar dates. It returns false when day is the
// activation day or earlier.
func Locate(activatedAt, day time.Time) (Position, bool) {
	n := daysBetween(activatedAt, day)
	if n < 1 {
		return Position{}, false
	}
	return Position{
		Day:         n,
		CycleNumber: (n-1)/CycleLength + 1,
		DayInCycle:  (n-1)%CycleLength + 1,
	}, true
}

// DayOf returns the calendar day the given position falls on.
func DayOf(activatedAt time.Time, cycleNumber, dayInCycle int) time.Time {
	n := (cycleNumber-1)*CycleLength + dayInCycle
	return truncateDay(activatedAt).AddDate(0, 0, n)
}

func daysBetween(from, to time.Time) int {
	return int(truncateDay(to).Sub(truncateDay(from)).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
