// Package entitlement answers "may this user access this feature". The
// engine consults it synchronously at transition time; payment
// confirmation arrives separately as a typed dialog event.
package entitlement

import (
	"context"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// Checker is the entitlement gate.
type Checker interface {
	IsEntitled(ctx context.Context, u *domain.User, f domain.Feature) (bool, error)
}

// Static grants features from the profile's persisted entitlements plus
// an optional trial allow-list of chat IDs.
type Static struct {
	trialChats map[int64]bool
}

// NewStatic builds a checker with the given trial chat IDs.
func NewStatic(trialChats []int64) *Static {
	m := make(map[int64]bool, len(trialChats))
	for _, id := range trialChats {
		m[id] = true
	}
	return &Static{trialChats: m}
}

func (s *Static) IsEntitled(_ context.Context, u *domain.User, f domain.Feature) (bool, error) {
	if u == nil {
		return false, nil
	}
	if u.Entitled(f) {
		return true, nil
	}
	return s.trialChats[u.ChatID], nil
}
