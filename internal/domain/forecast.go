package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two forecast products.
type Kind string

const (
	KindShort Kind = "short"
	KindFull  Kind = "full"
)

// Day is a user-local calendar date in YYYY-MM-DD form. It is the unit
// of artifact uniqueness: one artifact per (user, kind, day).
type Day string

// Content is a tagged variant: a short forecast is a single text, a
// full one is titled sections. Exactly one side is populated.
type Content struct {
	Short    string    `json:"short,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

// Section is one titled block of a full forecast.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Text flattens content for message delivery.
func (c Content) Text() string {
	if len(c.Sections) == 0 {
		return c.Short
	}
	out := ""
	for i, s := range c.Sections {
		if i > 0 {
			out += "\n\n"
		}
		out += s.Title + "\n" + s.Body
	}
	return out
}

// Artifact is a generated forecast, immutable once written.
// (UserID, Kind, Day) is the uniqueness key; a new local day produces a
// new artifact rather than overwriting the previous one.
type Artifact struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Kind    Kind
	Day     Day
	Content Content
	// ContextSnapshot is the serialized structured context the renderer
	// was given, kept for archive display and reproducibility.
	ContextSnapshot string
	Approximate     bool
	// Degraded artifacts are fallback templates served when generation
	// missed its budget. They are never persisted as canonical.
	Degraded  bool
	CreatedAt time.Time // UTC
}
