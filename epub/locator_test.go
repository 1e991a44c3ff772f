package epub

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"kae/location"
)

const locatorFormats = `{
  "kepub_formats": [
    {"path_marker": ".kepub.epub!!", "chapter_pattern": "chapter(\\d+)\\.xhtml"}
  ],
  "epub_formats": [
    {"path_marker": "#(", "chapter_pattern": "^(\\d+)\\)"}
  ]
}`

func openStandard(t *testing.T) (*Package, *location.Formats) {
	t.Helper()
	formats, err := location.ParseFormats([]byte(locatorFormats))
	if err != nil {
		t.Fatalf("ParseFormats() error = %v", err)
	}
	p, err := Open(writePackage(t, standardEntries()), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, formats
}

func TestLocate(t *testing.T) {
	p, formats := openStandard(t)

	tests := []struct {
		name    string
		loc     location.Location
		entry   string
		content string
	}{
		{"kepub numbered", location.Location{Kind: location.KindKepub, ChapterNumber: 2}, "OEBPS/Text/chapter2.xhtml", "two"},
		{"kepub numeric order not lexical", location.Location{Kind: location.KindKepub, ChapterNumber: 10}, "OEBPS/Text/chapter10.xhtml", "ten"},
		{"ordinal", location.Location{Kind: location.KindEpub, ChapterNumber: 1}, "OEBPS/Text/chapter1.xhtml", "one"},
		{"ordinal lexical", location.Location{Kind: location.KindEpub, ChapterNumber: 2}, "OEBPS/Text/chapter10.xhtml", "ten"},
		{"fallback", location.Location{Kind: location.KindFallback, ChapterNumber: 1}, "OEBPS/Text/part0001.xhtml", "part"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := p.Locate(tt.loc, formats)
			if err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if ch.Name != tt.entry {
				t.Errorf("Locate() entry = %s, want %s", ch.Name, tt.entry)
			}
			if want := "<html><body><p>" + tt.content + "</p></body></html>"; string(ch.Data) != want {
				t.Errorf("Locate() data = %s, want %s", ch.Data, want)
			}
		})
	}
}

func TestLocate_Errors(t *testing.T) {
	p, formats := openStandard(t)

	tests := []struct {
		name string
		loc  location.Location
		want error
	}{
		{"kepub absent number", location.Location{Kind: location.KindKepub, ChapterNumber: 3}, ErrChapterNotFound},
		{"fallback absent number", location.Location{Kind: location.KindFallback, ChapterNumber: 2}, ErrChapterNotFound},
		{"ordinal zero", location.Location{Kind: location.KindEpub, ChapterNumber: 0}, ErrChapterOutOfRange},
		{"ordinal too large", location.Location{Kind: location.KindEpub, ChapterNumber: 5}, ErrChapterOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Locate(tt.loc, formats)
			if !errors.Is(err, tt.want) {
				t.Errorf("Locate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestByNumber_UnparsableCaptureOrdersAsZero(t *testing.T) {
	formats, err := location.ParseFormats([]byte(`{"kepub_formats": [{"path_marker": "!!", "chapter_pattern": "chapter(\\w+)\\.xhtml"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	p, err := Open(writePackage(t, []entry{
		{"chapterintro.xhtml", "intro"},
		{"chapter1.xhtml", "one"},
	}), nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	name, err := p.byNumber(0, formats.Kepub)
	if err != nil {
		t.Fatalf("byNumber() error = %v", err)
	}
	if name != "chapterintro.xhtml" {
		t.Errorf("byNumber(0) = %s, want chapterintro.xhtml", name)
	}
}

func TestChapter_Resolve(t *testing.T) {
	p, formats := openStandard(t)

	ch, err := p.Locate(location.Location{Kind: location.KindKepub, ChapterNumber: 1}, formats)
	if err != nil {
		t.Fatal(err)
	}

	name, data, err := ch.Resolve("", "../Images/pic%201.png")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if name != "OEBPS/Images/pic 1.png" || string(data) != "png" {
		t.Errorf("Resolve() = %s, %q", name, data)
	}

	if _, _, err := ch.Resolve("", "../../../../secret"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrResourceNotFound)
	}
	if _, _, err := ch.Resolve("", "../Images/none.png"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrResourceNotFound)
	}
}
