package domain

import "time"

// dayFormat is the wire form of Day.
const dayFormat = "2006-01-02"

// Location resolves the user's IANA location, falling back to fallbackTZ
// and finally UTC. Every "today" in the engine goes through here so that
// a user near a timezone cutover gets a consistent calendar day.
func Location(u *User, fallbackTZ string) *time.Location {
	tz := fallbackTZ
	if u != nil && u.TZ != "" {
		tz = u.TZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDay returns the user's local calendar date for the given instant.
func LocalDay(u *User, now time.Time, fallbackTZ string) Day {
	return Day(now.In(Location(u, fallbackTZ)).Format(dayFormat))
}

// LocalMinutes returns minutes since local midnight for the given instant.
func LocalMinutes(u *User, now time.Time, fallbackTZ string) int {
	lt := now.In(Location(u, fallbackTZ))
	return lt.Hour()*60 + lt.Minute()
}

// DayTime parses a Day back into UTC midnight of that date. Used when a
// generation context needs the day as an instant.
func (d Day) Time() (time.Time, error) {
	return time.Parse(dayFormat, string(d))
}
