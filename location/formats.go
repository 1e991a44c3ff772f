package location

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/rupor-github/gencfg"
	yaml "gopkg.in/yaml.v3"
)

// Kind of a content id location scheme, it decides how chapter document is
// found in the package.
type Kind int

const (
	// Chapter number is embedded in document name.
	KindKepub Kind = iota
	// Chapter number is an ordinal of the document in the package.
	KindEpub
	// Last resort scheme for "OEBPS/partNNNN.xhtml" layouts.
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindKepub:
		return "kepub"
	case KindEpub:
		return "epub"
	case KindFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// defaultPathSplit separates package path from the path inside the package
// in KEPUB content ids.
const defaultPathSplit = "!!"

// Format describes single firmware location scheme.
type Format struct {
	PathMarker     string
	ChapterPattern *regexp.Regexp
	// NamePattern is case insensitive version of ChapterPattern used to match
	// document names inside the package.
	NamePattern   *regexp.Regexp
	EpubPathSplit string
	Kind          Kind
}

// Formats keeps ordered lists of known location schemes, first match wins.
type Formats struct {
	Kepub []Format
	Epub  []Format
}

// fallback is always tried after all configured formats.
var fallback = []Format{
	{
		PathMarker:     "OEBPS/part",
		ChapterPattern: regexp.MustCompile(`part(\d+)\.xhtml`),
		NamePattern:    regexp.MustCompile(`(?i)part(\d+)\.xhtml`),
		EpubPathSplit:  defaultPathSplit,
		Kind:           KindFallback,
	},
}

// ForKind returns formats used to match document names for requested kind.
func (f *Formats) ForKind(kind Kind) []Format {
	switch kind {
	case KindKepub:
		return f.Kepub
	case KindEpub:
		return f.Epub
	default:
		return fallback
	}
}

type formatEntry struct {
	PathMarker     string `yaml:"path_marker" validate:"required"`
	ChapterPattern string `yaml:"chapter_pattern" validate:"required"`
	EpubPathSplit  string `yaml:"epub_path_split,omitempty"`
}

type formatsFile struct {
	Kepub []formatEntry `yaml:"kepub_formats" validate:"dive"`
	Epub  []formatEntry `yaml:"epub_formats" validate:"dive"`
}

// LoadFormats reads declarative formats file. JSON and YAML are both
// accepted.
func LoadFormats(path string) (*Formats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read chapter formats: %w", err)
	}
	formats, err := ParseFormats(data)
	if err != nil {
		return nil, fmt.Errorf("unable to load chapter formats from '%s': %w", path, err)
	}
	return formats, nil
}

// ParseFormats decodes and compiles formats definitions.
func ParseFormats(data []byte) (*Formats, error) {
	var ff formatsFile
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&ff); err != nil {
		return nil, fmt.Errorf("failed to decode formats: %w", err)
	}
	if err := gencfg.Validate(&ff); err != nil {
		return nil, err
	}
	if len(ff.Kepub) == 0 && len(ff.Epub) == 0 {
		return nil, fmt.Errorf("no formats defined")
	}

	formats := &Formats{}
	for i, e := range ff.Kepub {
		f, err := e.compile(KindKepub)
		if err != nil {
			return nil, fmt.Errorf("kepub format %d: %w", i, err)
		}
		if len(f.EpubPathSplit) == 0 {
			f.EpubPathSplit = defaultPathSplit
		}
		formats.Kepub = append(formats.Kepub, f)
	}
	for i, e := range ff.Epub {
		f, err := e.compile(KindEpub)
		if err != nil {
			return nil, fmt.Errorf("epub format %d: %w", i, err)
		}
		formats.Epub = append(formats.Epub, f)
	}
	return formats, nil
}

func (e formatEntry) compile(kind Kind) (Format, error) {
	re, err := regexp.Compile(e.ChapterPattern)
	if err != nil {
		return Format{}, fmt.Errorf("bad chapter pattern %q: %w", e.ChapterPattern, err)
	}
	if n := re.NumSubexp(); n < 1 || n > 2 {
		return Format{}, fmt.Errorf("chapter pattern %q has %d capture groups, expected 1 or 2", e.ChapterPattern, n)
	}
	return Format{
		PathMarker:     e.PathMarker,
		ChapterPattern: re,
		NamePattern:    regexp.MustCompile("(?i)" + e.ChapterPattern),
		EpubPathSplit:  e.EpubPathSplit,
		Kind:           kind,
	}, nil
}
