package page

import (
	"fmt"
	"strings"
)

// Status tells how complete reconstructed page is.
//
// ENUM(ok, no-overlay, placeholder, text-only)
type Status int

const (
	// StatusOK is a page with annotation layer applied when there was one.
	StatusOK Status = iota
	// StatusNoOverlay is a page without annotation layer which could not be
	// composited.
	StatusNoOverlay
	// StatusPlaceholder is a blank page, chapter could not be rendered.
	StatusPlaceholder
	// StatusTextOnly is a blank page, chapter could not be found. Only
	// bookmark text is usable.
	StatusTextOnly
)

var statusNames = []string{"ok", "no-overlay", "placeholder", "text-only"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Degraded reports whether page image is not complete.
func (s Status) Degraded() bool {
	return s != StatusOK
}

// ParseStatus converts name to Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%s is not a valid Status", name)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
