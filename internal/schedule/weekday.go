package schedule

import "time"

// Day codes as stored on schedules and availability windows.
var dayCodes = map[time.Weekday]string{
	time.Sunday:    "Sun",
	time.Monday:    "Mon",
	time.Tuesday:   "Tue",
	time.Wednesday: "Wed",
	time.Thursday:  "Thu",
	time.Friday:    "Fri",
	time.Saturday:  "Sat",
}

var codeDays = map[string]time.Weekday{
	"Sun": time.Sunday,
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
}

// DayCode returns the canonical three-letter code for a weekday.
func DayCode(d time.Weekday) string {
	return dayCodes[d]
}

// ValidDay reports whether s is a canonical day code.
func ValidDay(s string) bool {
	_, ok := codeDays[s]
	return ok
}

// DaysIntersect reports whether two weekday sets share at least one day.
func DaysIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// ContainsDay reports whether the set includes the given day code.
func ContainsDay(days []string, code string) bool {
	for _, d := range days {
		if d == code {
			return true
		}
	}
	return false
}
