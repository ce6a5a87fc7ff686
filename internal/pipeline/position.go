package pipeline

import (
	"fmt"
	"strings"

	"vidforge/internal/domain"
)

// DefaultMargin is the distance in frame units kept between an anchored
// overlay element and the frame edge.
const DefaultMargin = 10.0

// Coordinate is a frame-relative position of the form
// frame*Frame + elem*Elem + Offset. It stays structured so callers can
// render it as an ffmpeg expression or evaluate it against known sizes.
// When Raw is set the caller supplied a verbatim expression and resolution
// is bypassed.
type Coordinate struct {
	Frame  float64
	Elem   float64
	Offset float64
	Raw    string
}

// Expr renders the coordinate as an ffmpeg expression using the given
// variable names for the frame and element dimensions.
func (c Coordinate) Expr(frameVar, elemVar string) string {
	if c.Raw != "" {
		return c.Raw
	}
	switch {
	case c.Frame == 0 && c.Elem == 0:
		return trimFloat(c.Offset)
	case c.Frame == 0.5 && c.Elem == -0.5:
		return fmt.Sprintf("(%s-%s)/2", frameVar, elemVar)
	case c.Frame == 1 && c.Elem == -1:
		return fmt.Sprintf("%s-%s-%s", frameVar, elemVar, trimFloat(-c.Offset))
	case c.Frame == 1 && c.Elem == 0:
		return fmt.Sprintf("%s-%s", frameVar, trimFloat(-c.Offset))
	default:
		return fmt.Sprintf("%s*%g+%s*%g+%g", frameVar, c.Frame, elemVar, c.Elem, c.Offset)
	}
}

// Value evaluates the coordinate for known frame and element sizes. Raw
// expressions cannot be evaluated and report an error.
func (c Coordinate) Value(frame, elem float64) (float64, error) {
	if c.Raw != "" {
		return 0, fmt.Errorf("raw coordinate expression %q is not evaluable", c.Raw)
	}
	return c.Frame*frame + c.Elem*elem + c.Offset, nil
}

// Point is a resolved overlay position.
type Point struct {
	X Coordinate
	Y Coordinate
}

// ResolvePosition maps a symbolic anchor ("top-left", "center", ...) to a
// Point. Raw "x:y" expressions pass through verbatim. Unknown anchors are
// rejected before any stage runs.
func ResolvePosition(position string, margin float64) (Point, error) {
	pos := strings.ToLower(strings.TrimSpace(position))
	if pos == "" {
		pos = "bottom-right"
	}
	if strings.Contains(pos, ":") {
		parts := strings.SplitN(position, ":", 2)
		return Point{X: Coordinate{Raw: parts[0]}, Y: Coordinate{Raw: parts[1]}}, nil
	}

	start := Coordinate{Offset: margin}
	end := Coordinate{Frame: 1, Elem: -1, Offset: -margin}
	center := Coordinate{Frame: 0.5, Elem: -0.5}

	switch pos {
	case "top-left", "tl":
		return Point{X: start, Y: start}, nil
	case "top-right", "tr":
		return Point{X: end, Y: start}, nil
	case "bottom-left", "bl":
		return Point{X: start, Y: end}, nil
	case "bottom-right", "br":
		return Point{X: end, Y: end}, nil
	case "center", "c":
		return Point{X: center, Y: center}, nil
	default:
		return Point{}, fmt.Errorf("%w: unknown position %q", domain.ErrInvalidOverlay, position)
	}
}

// EnableWindow renders the activation predicate for an overlay time
// window. Bounded windows activate within [start, end); unbounded windows
// activate from start onward.
func EnableWindow(start float64, end *float64) string {
	if end != nil {
		return fmt.Sprintf("between(t,%s,%s)", trimFloat(start), trimFloat(*end))
	}
	return fmt.Sprintf("gte(t,%s)", trimFloat(start))
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}
