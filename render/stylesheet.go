package render

import (
	"strconv"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// rewriteCSS replaces url() and @import references of package stylesheet
// with data URIs. Imported stylesheets are processed recursively up to
// maxImportDepth, deeper imports are left untouched.
func (b *builder) rewriteCSS(name string, data []byte, depth int) string {
	var (
		out       strings.Builder
		importing bool
	)
	l := css.NewLexer(parse.NewInputBytes(stripBOM(data)))
	for {
		tt, text := l.Next()
		switch tt {
		case css.ErrorToken:
			if err := l.Err(); err != nil && err.Error() != "EOF" {
				b.log.Debug("Stylesheet is malformed, keeping what was read", zap.String("stylesheet", name), zap.Error(err))
			}
			return out.String()
		case css.AtKeywordToken:
			importing = strings.EqualFold(string(text), "@import")
		case css.URLToken:
			if ref, ok := cssURL(text); ok {
				if uri, ok := b.cssReference(name, ref, importing, depth); ok {
					text = []byte(`url("` + uri + `")`)
				}
			}
			importing = false
		case css.StringToken:
			if importing {
				if ref, err := strconv.Unquote(normalizeQuotes(string(text))); err == nil {
					if uri, ok := b.cssReference(name, ref, true, depth); ok {
						text = []byte(`"` + uri + `"`)
					}
				}
			}
			importing = false
		case css.WhitespaceToken, css.CommentToken:
		default:
			importing = false
		}
		out.Write(text)
	}
}

func (b *builder) cssReference(base, ref string, imported bool, depth int) (string, bool) {
	if !isPackageRef(ref) {
		return "", false
	}
	if !imported {
		return b.dataURI(base, ref)
	}
	if depth+1 >= maxImportDepth {
		b.log.Debug("Stylesheet imports are nested too deep", zap.String("stylesheet", base), zap.String("ref", ref))
		return "", false
	}
	name, data, err := b.doc.Resolver.Resolve(base, ref)
	if err != nil {
		b.fail(ref, err)
		return "", false
	}
	return encodeDataURI("text/css", []byte(b.rewriteCSS(name, data, depth+1))), true
}

// cssURL extracts reference from url(...) token.
func cssURL(text []byte) (string, bool) {
	s := string(text)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return "", false
	}
	inner := strings.TrimSpace(strings.TrimSuffix(s[open+1:], ")"))
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') {
		unq, err := strconv.Unquote(normalizeQuotes(inner))
		if err != nil {
			return "", false
		}
		inner = unq
	}
	return inner, len(inner) > 0
}

// normalizeQuotes turns single quoted CSS string into double quoted Go one.
func normalizeQuotes(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		body := strings.ReplaceAll(s[1:len(s)-1], `\'`, `'`)
		return strconv.Quote(body)
	}
	return s
}
