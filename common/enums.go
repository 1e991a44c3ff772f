// Package common keeps enumerations shared by configuration and processing
// packages so that neither has to import the other.
package common

import (
	"fmt"
	"strings"
)

// Positioning strategy for markup overlays.
// ENUM(chapter, page)
type MarkupMode int

const (
	// Markup was captured over the whole chapter, it has to be offset by the
	// page crop window.
	MarkupModeChapter MarkupMode = iota
	// Markup was captured over a single displayed page and covers it as is.
	MarkupModePage
)

var markupModeNames = []string{"chapter", "page"}

// Layout engine used to rasterize chapter markup.
// ENUM(chrome, wkhtmltoimage)
type RasterEngine int

const (
	RasterEngineChrome RasterEngine = iota
	RasterEngineWkhtmltoimage
)

var rasterEngineNames = []string{"chrome", "wkhtmltoimage"}

// Specification of produced page image format.
// ENUM(png, jpeg)
type OutputFmt int

const (
	OutputFmtPng OutputFmt = iota
	OutputFmtJpeg
)

var outputFmtNames = []string{"png", "jpeg"}

func (o OutputFmt) Ext() string {
	switch o {
	case OutputFmtPng:
		return ".png"
	case OutputFmtJpeg:
		return ".jpg"
	default:
		// this should never happen
		panic("unsupported format requested")
	}
}

func (m MarkupMode) String() string {
	return enumName(markupModeNames, int(m))
}

func (e RasterEngine) String() string {
	return enumName(rasterEngineNames, int(e))
}

func (o OutputFmt) String() string {
	return enumName(outputFmtNames, int(o))
}

func MarkupModeNames() []string {
	return append([]string(nil), markupModeNames...)
}

func RasterEngineNames() []string {
	return append([]string(nil), rasterEngineNames...)
}

func OutputFmtNames() []string {
	return append([]string(nil), outputFmtNames...)
}

func ParseMarkupMode(s string) (MarkupMode, error) {
	i, err := enumParse(markupModeNames, "MarkupMode", s)
	return MarkupMode(i), err
}

func ParseRasterEngine(s string) (RasterEngine, error) {
	i, err := enumParse(rasterEngineNames, "RasterEngine", s)
	return RasterEngine(i), err
}

func ParseOutputFmt(s string) (OutputFmt, error) {
	i, err := enumParse(outputFmtNames, "OutputFmt", s)
	return OutputFmt(i), err
}

func (m MarkupMode) MarshalText() ([]byte, error)   { return []byte(m.String()), nil }
func (e RasterEngine) MarshalText() ([]byte, error) { return []byte(e.String()), nil }
func (o OutputFmt) MarshalText() ([]byte, error)    { return []byte(o.String()), nil }

func (m *MarkupMode) UnmarshalText(text []byte) (err error) {
	*m, err = ParseMarkupMode(string(text))
	return
}

func (e *RasterEngine) UnmarshalText(text []byte) (err error) {
	*e, err = ParseRasterEngine(string(text))
	return
}

func (o *OutputFmt) UnmarshalText(text []byte) (err error) {
	*o, err = ParseOutputFmt(string(text))
	return
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("Unknown(%d)", i)
	}
	return names[i]
}

func enumParse(names []string, kind, s string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s is not a valid %s, try [%s]", s, kind, strings.Join(names, ", "))
}
