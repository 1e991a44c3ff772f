// Package location decodes device content ids into canonical chapter
// locations.
package location

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kae/common"
	"kae/viewport"
)

var (
	// ErrUnrecognizedFormat is returned when no known scheme matches content
	// id.
	ErrUnrecognizedFormat = errors.New("unrecognized location format")
	// ErrMalformedID is returned when scheme matches but captured numbers
	// could not be parsed.
	ErrMalformedID = errors.New("malformed content id")
)

// Record is a bookmark as it comes from the annotation store.
type Record struct {
	BookmarkID string
	ContentID  string
	// ChapterProgress is a number, a numeric string or nil.
	ChapterProgress    any
	StartContainerPath string
	EndContainerPath   string
	Text               string
	Annotation         string
	// Markup is hand drawn layer captured over the page, if any.
	Markup     []byte
	MarkupMode common.MarkupMode
}

// Location is immutable canonical position of an annotation.
type Location struct {
	ContentID      string
	Kind           Kind
	ChapterNumber  int
	Offset         int
	PackagePath    string
	Progress       viewport.Progress
	StartContainer string
	EndContainer   string
	Text           string
	MarkupMode     common.MarkupMode
}

// link is a single step of decoding chain. It reports whether any of its
// formats claimed content id.
type link func(contentID string) (Location, bool, error)

func (f *Formats) chain() []link {
	return []link{
		func(id string) (Location, bool, error) { return decodeWhole(f.Kepub, id) },
		func(id string) (Location, bool, error) { return decodeSegment(f.Epub, id) },
		func(id string) (Location, bool, error) { return decodeWhole(fallback, id) },
	}
}

// Decode resolves content id trying KEPUB formats first, then EPUB formats
// and finally built-in fallback.
func (f *Formats) Decode(contentID string) (Location, error) {
	for _, next := range f.chain() {
		loc, ok, err := next(contentID)
		if err != nil {
			return Location{}, err
		}
		if ok {
			return loc, nil
		}
	}
	return Location{}, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, contentID)
}

// DecodeRecord produces full annotation location from the store record.
func (f *Formats) DecodeRecord(rec Record) (Location, error) {
	loc, err := f.Decode(rec.ContentID)
	if err != nil {
		return Location{}, err
	}
	loc.Progress = viewport.ParseProgress(rec.ChapterProgress)
	loc.StartContainer = rec.StartContainerPath
	loc.EndContainer = rec.EndContainerPath
	loc.Text = rec.Text
	loc.MarkupMode = rec.MarkupMode
	return loc, nil
}

// decodeWhole applies chapter pattern to the whole content id. Chapter number
// is the first capture group, package path precedes split marker.
func decodeWhole(formats []Format, contentID string) (Location, bool, error) {
	for _, f := range formats {
		if !strings.Contains(contentID, f.PathMarker) {
			continue
		}
		m := f.ChapterPattern.FindStringSubmatch(contentID)
		if m == nil {
			continue
		}
		chapter, err := parseGroup(m[1])
		if err != nil {
			return Location{}, true, fmt.Errorf("%w: %q chapter: %w", ErrMalformedID, contentID, err)
		}
		pkg, _, _ := strings.Cut(contentID, f.EpubPathSplit)
		return Location{
			ContentID:     contentID,
			Kind:          f.Kind,
			ChapterNumber: chapter,
			PackagePath:   pkg,
		}, true, nil
	}
	return Location{}, false, nil
}

// decodeSegment applies chapter pattern to the part of content id following
// path marker. Optional second group is an intra-chapter offset.
func decodeSegment(formats []Format, contentID string) (Location, bool, error) {
	for _, f := range formats {
		pkg, rest, found := strings.Cut(contentID, f.PathMarker)
		if !found {
			continue
		}
		// only text up to the next marker belongs to the chapter part
		segment, _, _ := strings.Cut(rest, f.PathMarker)
		idx := f.ChapterPattern.FindStringSubmatchIndex(segment)
		if idx == nil {
			continue
		}
		chapter, err := parseGroup(segment[idx[2]:idx[3]])
		if err != nil {
			return Location{}, true, fmt.Errorf("%w: %q chapter: %w", ErrMalformedID, contentID, err)
		}
		var offset int
		if len(idx) > 4 && idx[4] >= 0 {
			if offset, err = parseGroup(segment[idx[4]:idx[5]]); err != nil {
				return Location{}, true, fmt.Errorf("%w: %q offset: %w", ErrMalformedID, contentID, err)
			}
		}
		return Location{
			ContentID:     contentID,
			Kind:          f.Kind,
			ChapterNumber: chapter,
			Offset:        offset,
			PackagePath:   pkg,
		}, true, nil
	}
	return Location{}, false, nil
}

func parseGroup(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
