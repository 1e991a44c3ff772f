// Package viewport maps a normalized reading progress onto a fixed-size crop
// window of a rendered chapter.
package viewport

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// Progress is a vertical reading position within a chapter. Known values are
// always within [0, 1].
type Progress struct {
	value float64
	known bool
}

// Unknown returns progress for records which did not store any position.
func Unknown() Progress {
	return Progress{}
}

// NewProgress clamps v to [0, 1]. NaN is treated as the chapter start.
func NewProgress(v float64) Progress {
	switch {
	case math.IsNaN(v), v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return Progress{value: v, known: true}
}

// ParseProgress accepts values the way device database stores them: a number,
// a numeric string or nothing at all. Strings which could not be parsed are
// read as the chapter start.
func ParseProgress(v any) Progress {
	switch p := v.(type) {
	case nil:
		return Unknown()
	case Progress:
		return p
	case float64:
		return NewProgress(p)
	case float32:
		return NewProgress(float64(p))
	case int:
		return NewProgress(float64(p))
	case int64:
		return NewProgress(float64(p))
	case *float64:
		if p == nil {
			return Unknown()
		}
		return NewProgress(*p)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return NewProgress(0)
		}
		return NewProgress(f)
	case []byte:
		return ParseProgress(string(p))
	default:
		return NewProgress(0)
	}
}

// Value returns clamped progress and whether it is known.
func (p Progress) Value() (float64, bool) {
	return p.value, p.known
}

func (p Progress) Known() bool {
	return p.known
}

func (p Progress) String() string {
	if !p.known {
		return "unknown"
	}
	return fmt.Sprintf("%.4f", p.value)
}

// ComputeCrop returns the top edge of a pageHeight tall window centered on the
// progress position inside totalHeight tall chapter. Result is always within
// [0, max(0, totalHeight-pageHeight)]. Without known progress the window
// starts at the top.
func ComputeCrop(p Progress, totalHeight, pageHeight int) int {
	if !p.known || totalHeight <= 0 || totalHeight <= pageHeight {
		return 0
	}
	target := int(math.Floor(p.value * float64(totalHeight)))
	top := target - pageHeight/2
	return min(max(top, 0), max(0, totalHeight-pageHeight))
}

// Window returns crop rectangle of a page starting at top. Window never
// extends past chapter bottom, so it is shorter than pageHeight only when the
// whole chapter is.
func Window(width, totalHeight, pageHeight, top int) image.Rectangle {
	top = min(max(top, 0), max(0, totalHeight-pageHeight))
	return image.Rect(0, top, width, min(top+pageHeight, totalHeight))
}
