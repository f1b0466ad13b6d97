// Package preview renders compositions as piano-roll images.
package preview

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/phrazzld/melody-api/internal/domain"
)

// Image geometry
const (
	DefaultWidth  = 1200
	DefaultHeight = 400
	MinWidth      = 64
	MaxWidth      = 4096

	margin       = 16
	pitchPadding = 2
)

// ErrInvalidWidth is returned when a requested width is outside [MinWidth, MaxWidth].
var ErrInvalidWidth = fmt.Errorf("preview width must be between %d and %d", MinWidth, MaxWidth)

// ErrNothingToDraw is returned for compositions without notes.
var ErrNothingToDraw = errors.New("composition has no notes to draw")

// PianoRoll draws the composition at DefaultWidth x DefaultHeight. Time runs
// left to right, pitch bottom to top, and louder notes are drawn brighter.
func PianoRoll(c *domain.Composition) (image.Image, error) {
	if c == nil || len(c.Notes) == 0 {
		return nil, ErrNothingToDraw
	}

	low, high := c.PitchRange()
	low -= pitchPadding
	high += pitchPadding
	rows := float64(high - low + 1)

	total := c.DurationSeconds()
	if total <= 0 {
		return nil, ErrNothingToDraw
	}

	dc := gg.NewContext(DefaultWidth, DefaultHeight)
	dc.SetRGB(0.08, 0.09, 0.12)
	dc.Clear()

	plotW := float64(DefaultWidth - 2*margin)
	plotH := float64(DefaultHeight - 2*margin)
	rowH := plotH / rows

	// Octave guides on every C.
	dc.SetRGBA(1, 1, 1, 0.12)
	dc.SetLineWidth(1)
	for pitch := low; pitch <= high; pitch++ {
		if pitch%12 != 0 {
			continue
		}
		y := margin + plotH - float64(pitch-low+1)*rowH
		dc.DrawLine(margin, y+rowH, margin+plotW, y+rowH)
		dc.Stroke()
	}

	for _, n := range c.Notes {
		x := margin + n.Time/total*plotW
		w := max(n.Duration/total*plotW-1, 1)
		y := margin + plotH - float64(n.Note-low+1)*rowH
		shade := 0.35 + 0.65*float64(n.Velocity)/127
		dc.SetRGB(0.2*shade, 0.75*shade, shade)
		dc.DrawRectangle(x, y+1, w, max(rowH-2, 1))
		dc.Fill()
	}

	return dc.Image(), nil
}

// RenderPNG writes the piano roll as PNG. A width of zero keeps the default
// size; any other width rescales the image preserving its aspect ratio.
func RenderPNG(w io.Writer, c *domain.Composition, width int) error {
	if width != 0 && (width < MinWidth || width > MaxWidth) {
		return ErrInvalidWidth
	}

	img, err := PianoRoll(c)
	if err != nil {
		return err
	}
	if width != 0 && width != DefaultWidth {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	return nil
}
