package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate    = errors.New("invalid date")
	ErrDateOutOfRange = errors.New("date out of range")
)

// Accepted birth years, inclusive.
const (
	minBirthYear = 1900
	maxBirthYear = 2020
)

// DefaultBirthMinutes is substituted when the user skips birth time (12:00).
const DefaultBirthMinutes = 12 * 60

// ParseBirthDate parses "dd.mm.yyyy" and enforces the accepted year range.
// Invalid input is a validation signal for the dialog, never a transition.
func ParseBirthDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("02.01.2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	if y := t.Year(); y < minBirthYear || y > maxBirthYear {
		return time.Time{}, fmt.Errorf("%w: year %d", ErrDateOutOfRange, y)
	}
	return t.UTC(), nil
}

// BirthDetails is the parsed result of the time+place onboarding step.
type BirthDetails struct {
	Minutes *int   // minutes since midnight, nil when not provided
	Place   string // empty when not provided
	Skipped bool
}

// skip words accepted in either supported language.
var skipWords = map[string]bool{"skip": true, "пропустить": true}

// ParseBirthDetails parses "hh:mm, City", a bare time, a bare city, or
// an explicit skip. It is deliberately lenient: an unreadable time part
// is dropped rather than rejected, matching the onboarding contract
// that only the birth date is strictly validated.
func ParseBirthDetails(s string) BirthDetails {
	s = strings.TrimSpace(s)
	if s == "" || skipWords[strings.ToLower(s)] {
		return BirthDetails{Skipped: true}
	}

	var d BirthDetails
	if i := strings.IndexAny(s, ","); i >= 0 {
		timePart := strings.TrimSpace(s[:i])
		cityPart := strings.TrimSpace(s[i+1:])
		if m, err := parseHHMM(timePart); err == nil {
			d.Minutes = &m
		}
		d.Place = titleCase(cityPart)
		return d
	}

	// Single token: time first, otherwise a city.
	if m, err := parseHHMM(s); err == nil {
		d.Minutes = &m
		return d
	}
	d.Place = titleCase(s)
	return d
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	return parseHHMM(s)
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, errors.New("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.New("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("invalid minute")
	}
	return h*60 + m, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
	}
	return strings.Join(words, " ")
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// ValidateTZ checks that the tz is a valid IANA location.
func ValidateTZ(tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}
