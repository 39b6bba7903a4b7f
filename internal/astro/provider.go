// Package astro defines the narrow interface to the external
// astrological data provider and ships a deterministic built-in
// implementation. The real transit/aspect computation is an external
// concern; the engine only depends on the Context shape and on the
// provider being deterministic for a given timestamp.
package astro

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// Signal is one weighted transit/aspect observation for a day.
type Signal struct {
	Planet string  `json:"planet"`
	Aspect string  `json:"aspect"`
	Target string  `json:"target"`
	// Orb is the angular deviation in degrees; tighter orbs rank higher.
	Orb       float64 `json:"orb"`
	Intensity float64 `json:"intensity"` // 0..10
}

// Weight is the ranking score: intensity discounted by orb looseness.
func (s Signal) Weight() float64 {
	w := s.Intensity * (1 - s.Orb/10)
	if w < 0 {
		return 0
	}
	return w
}

// Context is the structured input handed to the rendering gateway.
type Context struct {
	Day         domain.Day `json:"day"`
	BirthDate   string     `json:"birth_date,omitempty"`
	BirthPlace  string     `json:"birth_place,omitempty"`
	Approximate bool       `json:"approximate"`
	Signals     []Signal   `json:"signals"`
}

// Snapshot serializes the context for storage alongside the artifact.
func (c Context) Snapshot() string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Reduced returns a copy limited to the n top-weighted signals. The
// emergency advice path renders from this slice, not the full context.
func (c Context) Reduced(n int) Context {
	out := c
	out.Signals = Rank(c.Signals)
	if len(out.Signals) > n {
		out.Signals = out.Signals[:n]
	}
	return out
}

// planetPriority is the stable secondary ranking key: classical order,
// faster bodies first. Unknown planets sort last.
var planetPriority = map[string]int{
	"Moon": 0, "Mercury": 1, "Venus": 2, "Sun": 3, "Mars": 4,
	"Jupiter": 5, "Saturn": 6, "Uranus": 7, "Neptune": 8, "Pluto": 9,
}

func priority(p string) int {
	if v, ok := planetPriority[p]; ok {
		return v
	}
	return len(planetPriority)
}

// Rank sorts signals by descending weight with a deterministic
// tie-break by planet priority, then aspect name. Input is not mutated.
func Rank(signals []Signal) []Signal {
	out := make([]Signal, len(signals))
	copy(out, signals)
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Weight(), out[j].Weight()
		if wi != wj {
			return wi > wj
		}
		pi, pj := priority(out[i].Planet), priority(out[j].Planet)
		if pi != pj {
			return pi < pj
		}
		return out[i].Aspect < out[j].Aspect
	})
	return out
}

// Provider computes the structured context for a user and timestamp.
// Implementations must be deterministic for a given timestamp.
type Provider interface {
	ComputeContext(ctx context.Context, u *domain.User, ts time.Time) (Context, error)
	// DailySignals returns the global (non-personalized) signals for a
	// day, used by the broadcast selection pass.
	DailySignals(ctx context.Context, day domain.Day) ([]Signal, error)
}
