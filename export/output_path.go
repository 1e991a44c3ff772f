package export

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"kae/config"
	"kae/kobo"
	"kae/page"
	"kae/state"
)

// Values are available to output name template.
type Values struct {
	Context    string
	BookmarkID string
	Title      string
	Author     string
	Chapter    string
	Type       string
	Status     string
	Created    string
	Volume     string
}

func newValues(b *kobo.Bookmark, res *page.Result) Values {
	v := Values{
		Context:    string(config.OutputNameTemplateFieldName),
		BookmarkID: b.BookmarkID,
		Title:      b.Title,
		Author:     b.Author,
		Type:       b.Type,
		Status:     res.Status.String(),
		Created:    b.Created,
	}
	if len(res.Location.PackagePath) > 0 {
		v.Chapter = strconv.Itoa(res.Location.ChapterNumber)
		v.Volume = volumeName(res.Location.PackagePath)
	} else if len(b.VolumeID) > 0 {
		v.Volume = volumeName(b.VolumeID)
	}
	return v
}

// volumeName is book file name without extensions.
func volumeName(p string) string {
	name := p[strings.LastIndexAny(p, `/\`)+1:]
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// buildOutputPath returns page image path. When name template is empty or
// could not be expanded default name is used, template may produce
// subdirectories.
func buildOutputPath(b *kobo.Bookmark, res *page.Result, dst string, env *state.LocalEnv) string {
	ext := env.Cfg.Output.Format.Ext()
	defaultFile := config.CleanFileName("annotation_"+b.BookmarkID) + ext

	if env.Cfg.Output.NameTemplate == "" {
		return filepath.Join(dst, defaultFile)
	}

	expandedName, err := expandTemplate(config.OutputNameTemplateFieldName, env.Cfg.Output.NameTemplate, newValues(b, res))
	if err != nil {
		env.Log.Warn("Unable to prepare output filename", zap.String("bookmark", b.BookmarkID), zap.Error(err))
		return filepath.Join(dst, defaultFile)
	}
	out := assemblePathWithSubdirs(dst, filepath.FromSlash(expandedName), ext, env)
	if out == dst {
		return filepath.Join(dst, defaultFile)
	}
	return out
}

func expandTemplate(name config.TemplateFieldName, field string, values Values) (string, error) {
	tmpl, err := template.New(string(name)).Funcs(sprig.FuncMap()).Parse(field)
	if err != nil {
		return "", fmt.Errorf("unable to parse template field %s: %w", name, err)
	}
	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, values); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// assemblePathWithSubdirs turns expanded name into path under outDir. Every
// segment is cleaned and relative references are dropped so result never
// leaves outDir.
func assemblePathWithSubdirs(outDir, expandedName, ext string, env *state.LocalEnv) string {
	var segments []string
	for _, s := range strings.FieldsFunc(expandedName, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if s == "." || s == ".." {
			continue
		}
		segments = append(segments, cleanPathSegment(s, env))
	}
	if len(segments) == 0 {
		return outDir
	}
	segments[len(segments)-1] += ext
	return filepath.Join(append([]string{outDir}, segments...)...)
}

func cleanPathSegment(segment string, env *state.LocalEnv) string {
	if env.Cfg.Output.Transliterate {
		segment = slug.Make(segment)
	}
	return config.CleanFileName(segment)
}

// textFileName places bookmark text next to its page.
func textFileName(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".txt"
}
