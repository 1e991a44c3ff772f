package location

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"kae/common"
	"kae/viewport"
)

const testFormats = `{
  "kepub_formats": [
    {"path_marker": ".kepub.epub!!", "chapter_pattern": "chapter(\\d+)\\.xhtml", "epub_path_split": "!!"},
    {"path_marker": ".kepub.epub!!", "chapter_pattern": "ch(\\w+)\\.html"}
  ],
  "epub_formats": [
    {"path_marker": "#(", "chapter_pattern": "^(\\d+)\\)[^#]*(?:#(\\d+))?"},
    {"path_marker": "#[", "chapter_pattern": "^(\\w+)\\]"}
  ]
}`

func mustFormats(t *testing.T) *Formats {
	t.Helper()
	f, err := ParseFormats([]byte(testFormats))
	if err != nil {
		t.Fatalf("ParseFormats() error = %v", err)
	}
	return f
}

func TestDecode(t *testing.T) {
	formats := mustFormats(t)

	tests := []struct {
		name string
		id   string
		want Location
	}{
		{
			name: "kepub",
			id:   "/mnt/onboard/Book.kepub.epub!!OEBPS/chapter0003.xhtml",
			want: Location{Kind: KindKepub, ChapterNumber: 3, PackagePath: "/mnt/onboard/Book.kepub.epub"},
		},
		{
			name: "epub with offset",
			id:   "/mnt/onboard/Book.epub#(12)OEBPS/Text/ch.xhtml#40",
			want: Location{Kind: KindEpub, ChapterNumber: 12, Offset: 40, PackagePath: "/mnt/onboard/Book.epub"},
		},
		{
			name: "epub without offset",
			id:   "/mnt/onboard/Book.epub#(2)OEBPS/Text/ch.xhtml",
			want: Location{Kind: KindEpub, ChapterNumber: 2, PackagePath: "/mnt/onboard/Book.epub"},
		},
		{
			name: "fallback",
			id:   "/mnt/onboard/Other.zip!!OEBPS/part0007.xhtml",
			want: Location{Kind: KindFallback, ChapterNumber: 7, PackagePath: "/mnt/onboard/Other.zip"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formats.Decode(tt.id)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.want.ContentID = tt.id
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreUnexported(viewport.Progress{})); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	formats := mustFormats(t)

	tests := []struct {
		name string
		id   string
		want error
	}{
		{"unknown", "/mnt/onboard/Book.pdf", ErrUnrecognizedFormat},
		{"empty", "", ErrUnrecognizedFormat},
		{"kepub bad number", "/mnt/onboard/B.kepub.epub!!chXIV.html", ErrMalformedID},
		{"epub bad number", "/mnt/onboard/B.epub#[IV]OEBPS/x.xhtml", ErrMalformedID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := formats.Decode(tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode_Order(t *testing.T) {
	// content id satisfies both KEPUB and fallback schemes, KEPUB must win
	formats := mustFormats(t)
	got, err := formats.Decode("/mnt/onboard/B.kepub.epub!!OEBPS/part0001.xhtml/chapter5.xhtml")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Kind != KindKepub || got.ChapterNumber != 5 {
		t.Errorf("Decode() = %s/%d, want kepub/5", got.Kind, got.ChapterNumber)
	}
}

func TestDecode_NextKepubEntry(t *testing.T) {
	// first entry marker matches but pattern does not, second entry is used
	formats := mustFormats(t)
	got, err := formats.Decode("/mnt/onboard/B.kepub.epub!!Text/ch9.html")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ChapterNumber != 9 || got.PackagePath != "/mnt/onboard/B.kepub.epub" {
		t.Errorf("Decode() = %+v", got)
	}
}

func TestDecodeWhole(t *testing.T) {
	loc, ok, err := decodeWhole(fallback, "x/OEBPS/part12.xhtml")
	if err != nil || !ok {
		t.Fatalf("decodeWhole() ok = %v, error = %v", ok, err)
	}
	if loc.ChapterNumber != 12 || loc.PackagePath != "x/OEBPS/part12.xhtml" {
		t.Errorf("decodeWhole() = %+v", loc)
	}

	if _, ok, _ := decodeWhole(fallback, "x/OEBPS/chapter12.xhtml"); ok {
		t.Error("decodeWhole() matched content id without marker")
	}
}

func TestDecodeSegment(t *testing.T) {
	formats := mustFormats(t)

	// pattern is applied only to text between the first and the second marker
	loc, ok, err := decodeSegment(formats.Epub, "a#(4)b#(9)c")
	if err != nil || !ok {
		t.Fatalf("decodeSegment() ok = %v, error = %v", ok, err)
	}
	if loc.ChapterNumber != 4 || loc.PackagePath != "a" {
		t.Errorf("decodeSegment() = %+v", loc)
	}
}

func TestDecodeRecord(t *testing.T) {
	formats := mustFormats(t)

	rec := Record{
		BookmarkID:         "bm-1",
		ContentID:          "/mnt/onboard/Book.kepub.epub!!OEBPS/chapter1.xhtml",
		ChapterProgress:    "1.5",
		StartContainerPath: "span#kobo\\.1\\.1",
		EndContainerPath:   "span#kobo\\.1\\.4",
		Text:               "quote",
		MarkupMode:         common.MarkupModePage,
	}
	loc, err := formats.DecodeRecord(rec)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if p, ok := loc.Progress.Value(); !ok || p != 1 {
		t.Errorf("Progress = %v, want clamped 1", loc.Progress)
	}
	if loc.StartContainer != rec.StartContainerPath || loc.EndContainer != rec.EndContainerPath {
		t.Errorf("containers = %q/%q", loc.StartContainer, loc.EndContainer)
	}
	if loc.MarkupMode != common.MarkupModePage {
		t.Errorf("MarkupMode = %s", loc.MarkupMode)
	}

	rec.ChapterProgress = nil
	loc, err = formats.DecodeRecord(rec)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if loc.Progress.Known() {
		t.Error("Progress is known for record without progress")
	}
}

func TestParseFormats_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not a document", "[1, 2"},
		{"empty", "{}"},
		{"missing pattern", `{"kepub_formats": [{"path_marker": "x"}]}`},
		{"bad regexp", `{"kepub_formats": [{"path_marker": "x", "chapter_pattern": "("}]}`},
		{"no groups", `{"epub_formats": [{"path_marker": "x", "chapter_pattern": "\\d+"}]}`},
		{"too many groups", `{"epub_formats": [{"path_marker": "x", "chapter_pattern": "(\\d)(\\d)(\\d)"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFormats([]byte(tt.data)); err == nil {
				t.Error("ParseFormats() expected error")
			}
		})
	}
}

func TestParseFormats_Defaults(t *testing.T) {
	formats := mustFormats(t)
	if formats.Kepub[1].EpubPathSplit != "!!" {
		t.Errorf("default split = %q, want !!", formats.Kepub[1].EpubPathSplit)
	}
	if !formats.Kepub[0].NamePattern.MatchString("OEBPS/CHAPTER3.XHTML") {
		t.Error("name pattern must be case insensitive")
	}
	if got := formats.ForKind(KindFallback); len(got) != 1 || got[0].Kind != KindFallback {
		t.Errorf("ForKind(fallback) = %v", got)
	}
}

func TestLoadFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formats.json")
	if err := os.WriteFile(path, []byte(testFormats), 0644); err != nil {
		t.Fatal(err)
	}
	formats, err := LoadFormats(path)
	if err != nil {
		t.Fatalf("LoadFormats() error = %v", err)
	}
	if len(formats.Kepub) != 2 || len(formats.Epub) != 2 {
		t.Errorf("loaded %d/%d formats", len(formats.Kepub), len(formats.Epub))
	}

	if _, err := LoadFormats(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("LoadFormats() expected error for absent file")
	}
}

func TestLoadFormats_Shipped(t *testing.T) {
	formats, err := LoadFormats(filepath.Join("..", "chapter_formats.json"))
	if err != nil {
		t.Fatalf("LoadFormats() error = %v", err)
	}

	tests := []struct {
		id      string
		kind    Kind
		chapter int
		offset  int
		pkg     string
	}{
		{"/mnt/onboard/Author/Title.kepub.epub!!OEBPS/Text/chapter012.xhtml", KindKepub, 12, 0, "/mnt/onboard/Author/Title.kepub.epub"},
		{"/mnt/onboard/Author/Title.epub#(3)OEBPS/Text/ch.xhtml", KindEpub, 3, 0, "/mnt/onboard/Author/Title.epub"},
		{"/mnt/onboard/Author/Title.epub#(7)OEBPS/Text/ch.xhtml#42", KindEpub, 7, 42, "/mnt/onboard/Author/Title.epub"},
		{"/mnt/onboard/Author/Title.epub!OEBPS/Text/split_05.xhtml", KindEpub, 5, 0, "/mnt/onboard/Author/Title.epub"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			loc, err := formats.Decode(tt.id)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if loc.Kind != tt.kind || loc.ChapterNumber != tt.chapter || loc.Offset != tt.offset {
				t.Errorf("Decode() = %s/%d/%d, want %s/%d/%d", loc.Kind, loc.ChapterNumber, loc.Offset, tt.kind, tt.chapter, tt.offset)
			}
			if loc.PackagePath != tt.pkg || !strings.HasSuffix(loc.PackagePath, ".epub") {
				t.Errorf("PackagePath = %q, want %q", loc.PackagePath, tt.pkg)
			}
		})
	}
}
