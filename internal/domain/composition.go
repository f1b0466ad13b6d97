package domain

import (
	"fmt"
	"math"
	"slices"
)

// NoteOn is the only event type producers currently emit.
const NoteOn = "note_on"

// Note is a single sounding event of a composition. Time and Duration are in
// seconds from the start of the piece.
type Note struct {
	Type     string  `json:"type"`
	Note     int     `json:"note"`
	Time     float64 `json:"time"`
	Velocity int     `json:"velocity"`
	Duration float64 `json:"duration"`
}

// Composition is the payload a producer returns and the result store keeps.
type Composition struct {
	Notes []Note `json:"notes"`
}

// Validate reports whether every note is playable.
func (c *Composition) Validate() error {
	if c == nil || len(c.Notes) == 0 {
		return ErrEmptyComposition
	}
	for i, n := range c.Notes {
		if n.Note < 0 || n.Note > 127 {
			return fmt.Errorf("%w: note %d pitch %d outside MIDI range", ErrInvalidNote, i, n.Note)
		}
		if n.Velocity < 0 || n.Velocity > 127 {
			return fmt.Errorf("%w: note %d velocity %d outside MIDI range", ErrInvalidNote, i, n.Velocity)
		}
		if n.Duration <= 0 || n.Time < 0 {
			return fmt.Errorf("%w: note %d has invalid timing", ErrInvalidNote, i)
		}
	}
	return nil
}

// DurationSeconds is the time at which the last note stops sounding. Older
// clients estimated duration as half a second per note; this value follows
// the actual note timings instead, so the two differ whenever notes are not
// half a second long.
func (c *Composition) DurationSeconds() float64 {
	if c == nil {
		return 0
	}
	var end float64
	for _, n := range c.Notes {
		end = math.Max(end, n.Time+n.Duration)
	}
	return end
}

// PitchRange returns the lowest and highest pitch used. Both are zero for an
// empty composition.
func (c *Composition) PitchRange() (low, high int) {
	if c == nil || len(c.Notes) == 0 {
		return 0, 0
	}
	low, high = c.Notes[0].Note, c.Notes[0].Note
	for _, n := range c.Notes[1:] {
		low = min(low, n.Note)
		high = max(high, n.Note)
	}
	return low, high
}

// Clone returns a deep copy of the composition.
func (c *Composition) Clone() *Composition {
	if c == nil {
		return nil
	}
	return &Composition{Notes: slices.Clone(c.Notes)}
}
