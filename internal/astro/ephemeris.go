package astro

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

var (
	planets = []string{
		"Moon", "Mercury", "Venus", "Sun", "Mars",
		"Jupiter", "Saturn", "Uranus", "Neptune", "Pluto",
	}
	aspects = []string{"conjunction", "sextile", "square", "trine", "opposition"}
	targets = []string{
		"natal Sun", "natal Moon", "natal Ascendant", "natal Venus",
		"natal Mars", "natal Midheaven",
	}
)

// Ephemeris is the built-in Provider: a table-driven pseudo-ephemeris
// seeded from (birth date, day). It is stable across runs and hosts,
// which is all the engine requires of a data provider.
type Ephemeris struct{}

// NewEphemeris returns the deterministic built-in provider.
func NewEphemeris() *Ephemeris { return &Ephemeris{} }

// ComputeContext derives a personalized signal set for the user's local day.
func (e *Ephemeris) ComputeContext(_ context.Context, u *domain.User, ts time.Time) (Context, error) {
	c := Context{
		Day:         domain.Day(ts.UTC().Format("2006-01-02")),
		Approximate: u != nil && u.ApproximateBirth,
	}
	seed := string(c.Day)
	if u != nil && u.BirthDate != nil {
		c.BirthDate = u.BirthDate.Format("02.01.2006")
		c.BirthPlace = u.BirthPlace
		seed += "|" + c.BirthDate
	}
	c.Signals = derive(seed, 6)
	return c, nil
}

// DailySignals derives the global signal set for a day (no birth seed).
func (e *Ephemeris) DailySignals(_ context.Context, day domain.Day) ([]Signal, error) {
	return derive(string(day), 5), nil
}

// derive expands a seed string into n signals via FNV hashing.
func derive(seed string, n int) []Signal {
	out := make([]Signal, 0, n)
	for i := 0; i < n; i++ {
		h := fnv.New64a()
		_, _ = h.Write([]byte(seed))
		_, _ = h.Write([]byte{byte(i)})
		v := h.Sum64()

		planet := planets[v%uint64(len(planets))]
		v /= uint64(len(planets))
		aspect := aspects[v%uint64(len(aspects))]
		v /= uint64(len(aspects))
		target := targets[v%uint64(len(targets))]
		v /= uint64(len(targets))

		orb := float64(v%80) / 10 // 0.0..7.9 degrees
		v /= 80
		intensity := 2 + float64(v%80)/10 // 2.0..9.9

		out = append(out, Signal{
			Planet:    planet,
			Aspect:    aspect,
			Target:    target,
			Orb:       orb,
			Intensity: intensity,
		})
	}
	return out
}
