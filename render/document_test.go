package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type mapResolver struct {
	doc   string
	files map[string][]byte
}

func (m *mapResolver) Resolve(base, href string) (string, []byte, error) {
	if len(base) == 0 {
		base = m.doc
	}
	name := path.Clean(path.Join(path.Dir(base), href))
	data, ok := m.files[name]
	if !ok {
		return name, nil, errors.New("not found")
	}
	return name, data, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

const testChapter = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title>One</title>
<link rel="stylesheet" type="text/css" href="../Styles/main.css"/>
<style>p.first { text-indent: 0; }</style>
<script>alert("x")</script>
</head>
<body>
<p class="first"><span id="kobo.1.1">Start</span> and <span id="kobo.2.1">end</span>.</p>
<img src="../Images/pic.png" alt="pic"/>
<img src="../Images/missing.png" alt="none"/>
<img src="https://example.com/remote.png" alt="remote"/>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"><image xlink:href="../Images/pic.png"/></svg>
</body>
</html>`

func testDocument(t *testing.T) Document {
	t.Helper()
	pic := testPNG(t)
	return Document{
		Name: "OEBPS/Text/part0001.xhtml",
		Data: []byte(testChapter),
		Resolver: &mapResolver{
			doc: "OEBPS/Text/part0001.xhtml",
			files: map[string][]byte{
				"OEBPS/Images/pic.png":   pic,
				"OEBPS/Styles/main.css":  []byte(`@import "more.css"; p { background: url('../Images/pic.png'); }`),
				"OEBPS/Styles/more.css":  []byte(`h1 { background: url(../Images/pic.png) }`),
				"OEBPS/Images/other.svg": []byte(`<svg/>`),
			},
		},
		StartContainer: `span#kobo\.1\.1`,
		EndContainer:   `span#kobo\.2\.1`,
	}
}

func TestBuildDocument(t *testing.T) {
	prefs := Preferences{FontFamily: "Georgia", FontSizePx: 20, ZoomFactor: 1.5}
	out, failed, err := BuildDocument(testDocument(t), prefs, Canvas{Width: 600, Height: 800}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildDocument() error = %v", err)
	}

	for _, want := range []string{
		"<!DOCTYPE html>",
		"size: 600px 800px;",
		"font-family: 'Georgia', sans-serif;",
		"font-size: 30px;",
		"font-size: 36px;",
		"padding: 30px;",
		"p.first { text-indent: 0; }",
		`id="kobo.1.1" class="kae-annotation-start"`,
		`id="kobo.2.1" class="kae-annotation-end"`,
		`src="data:image/png;base64,`,
		`xlink:href="data:image/png;base64,`,
		`@import "data:text/css;base64,`,
		`url("data:image/png;base64,`,
		`src="https://example.com/remote.png"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("BuildDocument() output does not contain %q", want)
		}
	}
	for _, unwanted := range []string{"<script", "alert(", "main.css", `src="../Images/pic.png"`} {
		if strings.Contains(out, unwanted) {
			t.Errorf("BuildDocument() output contains %q", unwanted)
		}
	}
	if base, chapter := strings.Index(out, "@page"), strings.Index(out, "p.first {"); base < 0 || chapter < base {
		t.Errorf("BuildDocument() base stylesheet is not first (%d, %d)", base, chapter)
	}
	if len(failed) != 1 || failed[0] != "../Images/missing.png" {
		t.Errorf("BuildDocument() failed = %v", failed)
	}
}

func TestBuildDocument_NoResolver(t *testing.T) {
	doc := testDocument(t)
	doc.Resolver = nil
	out, failed, err := BuildDocument(doc, Preferences{}, Canvas{Width: 100, Height: 100}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildDocument() error = %v", err)
	}
	if len(failed) != 4 {
		t.Errorf("BuildDocument() failed = %v, want 4 entries", failed)
	}
	if !strings.Contains(out, "font-size: 16px;") {
		t.Errorf("BuildDocument() does not use default font size")
	}
}

func TestBuildDocument_Fragment(t *testing.T) {
	doc := Document{Name: "a.html", Data: []byte("\xEF\xBB\xBF<p>Just text</p>")}
	out, failed, err := BuildDocument(doc, Preferences{}, Canvas{Width: 100, Height: 100}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildDocument() error = %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("BuildDocument() failed = %v", failed)
	}
	if !strings.Contains(out, "<body><p>Just text</p></body>") {
		t.Errorf("BuildDocument() = %s", out)
	}
}

func TestBuildDocument_StyleEscape(t *testing.T) {
	doc := Document{Name: "a.html", Data: []byte(`<html><head><style>p::after { content: "</style"; }</style></head><body/></html>`)}
	out, _, err := BuildDocument(doc, Preferences{}, Canvas{Width: 100, Height: 100}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildDocument() error = %v", err)
	}
	if !strings.Contains(out, `content: "<\/style";`) {
		t.Errorf("BuildDocument() style is not escaped: %s", out)
	}
}

func TestBuildDocument_DeviceFont(t *testing.T) {
	font := &deviceFont{Family: deviceFontFamily, URL: "data:font/ttf;base64,AAEAAAA="}
	out, _, err := BuildDocument(Document{Name: "a.html", Data: []byte("<p>x</p>")},
		Preferences{FontFamily: `Evil'; } body { color: red`}, Canvas{Width: 100, Height: 100}, font, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildDocument() error = %v", err)
	}
	for _, want := range []string{
		"font-family: 'kae-device';",
		`src: url("data:font/ttf;base64,AAEAAAA=");`,
		"font-family: 'kae-device', 'Evil  body  color: red', sans-serif;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("BuildDocument() output does not contain %q", want)
		}
	}
}

func TestContainerID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`span#kobo\.12\.3`, "kobo.12.3"},
		{`body > div > span#kobo\.1\.1`, "kobo.1.1"},
		{`/html/body/span#kobo\.4\.2`, "kobo.4.2"},
		{`span`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := containerID(tt.in); got != tt.want {
			t.Errorf("containerID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCSSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`url(a.png)`, "a.png", true},
		{`url( "b c.png" )`, "b c.png", true},
		{`url('d\'e.png')`, "d'e.png", true},
		{`url()`, "", false},
		{`url(x.png`, "x.png", true},
	}
	for _, tt := range tests {
		got, ok := cssURL([]byte(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("cssURL(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMediaType(t *testing.T) {
	png := testPNG(t)
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"a.png", png, "image/png"},
		{"a.bin", png, "image/png"},
		{"a.svg", []byte("<svg/>"), "image/svg+xml"},
		{"a.css", []byte("p{}"), "text/css"},
		{"a.unknown-ext", []byte("zzz"), "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mediaType(tt.name, tt.data); got != tt.want {
			t.Errorf("mediaType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFindDeviceFont(t *testing.T) {
	dir := t.TempDir()
	ttf := append([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x0c}, make([]byte, 32)...)
	if err := os.WriteFile(filepath.Join(dir, "Georgia-Regular.TTF"), ttf, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Broken.ttf"), []byte("not a font"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		dir   string
		prefs Preferences
		found bool
	}{
		{"regular variant", dir, Preferences{UseDeviceFont: true, FontFamily: "georgia"}, true},
		{"explicit name", dir, Preferences{UseDeviceFont: true, FontFamily: "Serif", DeviceFontName: "Georgia Regular"}, true},
		{"disabled", dir, Preferences{FontFamily: "Georgia"}, false},
		{"no dir", "", Preferences{UseDeviceFont: true, FontFamily: "Georgia"}, false},
		{"missing dir", filepath.Join(dir, "none"), Preferences{UseDeviceFont: true, FontFamily: "Georgia"}, false},
		{"unrecognized", dir, Preferences{UseDeviceFont: true, FontFamily: "Broken"}, false},
		{"unknown", dir, Preferences{UseDeviceFont: true, FontFamily: "Arial"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := findDeviceFont(tt.dir, tt.prefs, zap.NewNop())
			if (f != nil) != tt.found {
				t.Fatalf("findDeviceFont() = %v, want found %v", f, tt.found)
			}
			if f != nil && (f.Family != deviceFontFamily || !strings.HasPrefix(f.URL, "data:font/ttf;base64,")) {
				t.Errorf("findDeviceFont() = %+v", f)
			}
		})
	}
}
