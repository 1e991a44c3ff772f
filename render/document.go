package render

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/url"
	"path"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var (
	//go:embed base.css.tmpl
	baseCSSTemplate string
	//go:embed page.html.tmpl
	pageTemplate string

	baseCSSTmpl = template.Must(template.New("base").Funcs(sprig.FuncMap()).Parse(baseCSSTemplate))
	pageTmpl    = template.Must(template.New("page").Funcs(sprig.FuncMap()).Parse(pageTemplate))
)

// Classes added to elements named by annotation container paths.
const (
	StartClass = "kae-annotation-start"
	EndClass   = "kae-annotation-end"
)

const (
	basePaddingPx   = 20
	headingScale    = 1.2
	maxImportDepth  = 4
	defaultFontSize = 16
)

type builder struct {
	doc    Document
	styles []string
	failed []string
	start  string
	end    string
	log    *zap.Logger
}

// BuildDocument produces self contained HTML for the chapter: scripts are
// removed, images and linked stylesheets are embedded as data URIs and
// generated base stylesheet goes first followed by chapter styles in
// document order. Names of resources which could not be embedded are
// returned, rendering continues without them.
func BuildDocument(doc Document, prefs Preferences, canvas Canvas, font *deviceFont, log *zap.Logger) (string, []string, error) {
	r, err := charset.NewReader(bytes.NewReader(stripBOM(doc.Data)), "text/html")
	if err != nil {
		return "", nil, fmt.Errorf("unable to detect document encoding: %w", err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return "", nil, fmt.Errorf("unable to parse document: %w", err)
	}

	b := &builder{
		doc:   doc,
		start: containerID(doc.StartContainer),
		end:   containerID(doc.EndContainer),
		log:   log,
	}
	b.walk(root)

	body := findElement(root, atom.Body)
	if body == nil {
		return "", nil, fmt.Errorf("document '%s' has no body", doc.Name)
	}
	var bodyBuf bytes.Buffer
	if err := html.Render(&bodyBuf, body); err != nil {
		return "", nil, fmt.Errorf("unable to serialize document body: %w", err)
	}

	base, err := baseStylesheet(prefs, canvas, font)
	if err != nil {
		return "", nil, err
	}

	styles := make([]string, 0, len(b.styles))
	for _, s := range b.styles {
		styles = append(styles, escapeStyle(s))
	}

	var out bytes.Buffer
	if err := pageTmpl.Execute(&out, struct {
		Base   string
		Styles []string
		Body   string
	}{
		Base:   base,
		Styles: styles,
		Body:   bodyBuf.String(),
	}); err != nil {
		return "", nil, fmt.Errorf("unable to assemble document: %w", err)
	}
	return out.String(), b.failed, nil
}

func baseStylesheet(prefs Preferences, canvas Canvas, font *deviceFont) (string, error) {
	zoom := prefs.Zoom()
	size := prefs.FontSizePx
	if size <= 0 {
		size = defaultFontSize
	}
	fontSize := float64(size) * zoom

	families := make([]string, 0, 3)
	if font != nil {
		families = append(families, "'"+font.Family+"'")
	}
	if family := cssFamily(prefs.FontFamily); len(family) > 0 {
		families = append(families, "'"+family+"'")
	}
	families = append(families, "sans-serif")

	var buf bytes.Buffer
	if err := baseCSSTmpl.Execute(&buf, struct {
		Width, Height int
		Padding       float64
		FontSize      float64
		HeadingSize   float64
		Families      []string
		FontFace      *deviceFont
	}{
		Width:       canvas.Width,
		Height:      canvas.Height,
		Padding:     round2(basePaddingPx * zoom),
		FontSize:    round2(fontSize),
		HeadingSize: round2(fontSize * headingScale),
		Families:    families,
		FontFace:    font,
	}); err != nil {
		return "", fmt.Errorf("unable to prepare base stylesheet: %w", err)
	}
	return buf.String(), nil
}

func (b *builder) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			switch {
			case c.DataAtom == atom.Script:
				n.RemoveChild(c)
				c = next
				continue
			case c.DataAtom == atom.Style:
				b.styles = append(b.styles, textContent(c))
				n.RemoveChild(c)
				c = next
				continue
			case c.DataAtom == atom.Link:
				if isStylesheetLink(c) {
					b.linkStylesheet(c)
				}
				n.RemoveChild(c)
				c = next
				continue
			case c.DataAtom == atom.Img:
				b.inlineAttr(c, "", "src")
			case c.Namespace == "svg" && c.Data == "image":
				b.inlineAttr(c, "xlink", "href")
				b.inlineAttr(c, "", "href")
			}
			if id := attr(c, "", "id"); len(id) > 0 {
				if id == b.start {
					addClass(c, StartClass)
				}
				if id == b.end {
					addClass(c, EndClass)
				}
			}
		}
		b.walk(c)
		c = next
	}
}

func (b *builder) inlineAttr(n *html.Node, ns, key string) {
	for i, a := range n.Attr {
		if a.Namespace != ns || a.Key != key || !isPackageRef(a.Val) {
			continue
		}
		if uri, ok := b.dataURI(b.doc.Name, a.Val); ok {
			n.Attr[i].Val = uri
		}
	}
}

func (b *builder) linkStylesheet(n *html.Node) {
	href := attr(n, "", "href")
	if !isPackageRef(href) {
		return
	}
	if b.doc.Resolver == nil {
		b.fail(href, errors.New("no package access"))
		return
	}
	name, data, err := b.doc.Resolver.Resolve("", href)
	if err != nil {
		b.fail(href, err)
		return
	}
	b.styles = append(b.styles, b.rewriteCSS(name, data, 0))
}

// dataURI reads resource referenced from base and encodes it.
func (b *builder) dataURI(base, ref string) (string, bool) {
	if b.doc.Resolver == nil {
		b.fail(ref, errors.New("no package access"))
		return "", false
	}
	name, data, err := b.doc.Resolver.Resolve(base, ref)
	if err != nil {
		b.fail(ref, err)
		return "", false
	}
	return encodeDataURI(mediaType(name, data), data), true
}

func (b *builder) fail(ref string, err error) {
	b.failed = append(b.failed, ref)
	b.log.Warn("Resource will not be rendered", zap.String("document", b.doc.Name), zap.String("ref", ref),
		zap.Error(fmt.Errorf("%w: %w", ErrResourceInline, err)))
}

func encodeDataURI(mt string, data []byte) string {
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func mediaType(name string, data []byte) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".svg":
		return "image/svg+xml"
	case ".css":
		return "text/css"
	}
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if mt := mime.TypeByExtension(ext); len(mt) > 0 {
		return mt
	}
	return "application/octet-stream"
}

// isPackageRef reports whether reference points inside the package.
func isPackageRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	if len(ref) == 0 || strings.HasPrefix(ref, "#") {
		return false
	}
	if u, err := url.Parse(ref); err == nil && len(u.Scheme) > 0 {
		return false
	}
	return true
}

// containerID extracts element id from device container path, which looks
// like CSS selector with escaped dots: "span#kobo\.12\.3".
func containerID(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.LastIndexAny(p, " >/"); i >= 0 {
		p = p[i+1:]
	}
	_, id, found := strings.Cut(p, "#")
	if !found {
		return ""
	}
	return strings.ReplaceAll(id, `\`, "")
}

func isStylesheetLink(n *html.Node) bool {
	for _, rel := range strings.Fields(strings.ToLower(attr(n, "", "rel"))) {
		if rel == "stylesheet" {
			return true
		}
	}
	return false
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, ns, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == ns && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func addClass(n *html.Node, class string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == "class" {
			n.Attr[i].Val = strings.TrimSpace(a.Val + " " + class)
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// cssFamily drops characters which could break out of quoted family name.
func cssFamily(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '\'', '"', '\\', ';', '{', '}', '<', '>':
			return -1
		}
		return r
	}, s))
}

func escapeStyle(s string) string {
	return strings.ReplaceAll(s, "</style", `<\/style`)
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
