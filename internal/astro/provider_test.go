package astro

import (
	"context"
	"testing"
	"time"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

func TestEphemeris_Deterministic(t *testing.T) {
	e := NewEphemeris()
	bd := time.Date(1995, time.April, 27, 0, 0, 0, 0, time.UTC)
	u := &domain.User{BirthDate: &bd, TZ: "Europe/Moscow"}
	ts := time.Date(2025, time.May, 5, 0, 0, 0, 0, time.UTC)

	a, err := e.ComputeContext(context.Background(), u, ts)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, err := e.ComputeContext(context.Background(), u, ts)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if a.Snapshot() != b.Snapshot() {
		t.Fatal("same timestamp must produce identical context")
	}
	if len(a.Signals) == 0 {
		t.Fatal("expected signals")
	}
}

func TestRank_OrderAndTieBreak(t *testing.T) {
	in := []Signal{
		{Planet: "Saturn", Aspect: "square", Orb: 0, Intensity: 5},
		{Planet: "Moon", Aspect: "trine", Orb: 0, Intensity: 5},
		{Planet: "Mars", Aspect: "opposition", Orb: 1, Intensity: 9},
	}
	got := Rank(in)
	if got[0].Planet != "Mars" {
		t.Fatalf("highest weight first, got %s", got[0].Planet)
	}
	// Saturn and Moon tie on weight; Moon wins on planet priority.
	if got[1].Planet != "Moon" || got[2].Planet != "Saturn" {
		t.Fatalf("tie-break by planet priority, got %s then %s", got[1].Planet, got[2].Planet)
	}
	// Input untouched.
	if in[0].Planet != "Saturn" {
		t.Fatal("Rank must not mutate input")
	}
}

func TestReduced_TopN(t *testing.T) {
	c := Context{Signals: []Signal{
		{Planet: "Moon", Orb: 5, Intensity: 2},
		{Planet: "Sun", Orb: 0, Intensity: 9},
		{Planet: "Mars", Orb: 1, Intensity: 8},
		{Planet: "Venus", Orb: 2, Intensity: 7},
	}}
	r := c.Reduced(3)
	if len(r.Signals) != 3 {
		t.Fatalf("want 3 signals, got %d", len(r.Signals))
	}
	if r.Signals[0].Planet != "Sun" {
		t.Fatalf("want Sun first, got %s", r.Signals[0].Planet)
	}
	if len(c.Signals) != 4 {
		t.Fatal("Reduced must not mutate the original")
	}
}
