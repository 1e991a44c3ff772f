package epub

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"kae/location"
)

// Chapter is a located chapter document. It is valid only while its package
// is open.
type Chapter struct {
	Name string
	Data []byte
	pkg  *Package
}

// Resolve reads resource referenced by relative href from package entry
// base. Empty base means the chapter itself.
func (c *Chapter) Resolve(base, href string) (string, []byte, error) {
	if len(base) == 0 {
		base = c.Name
	}
	name := Resolve(base, href)
	if len(name) == 0 {
		return "", nil, fmt.Errorf("%w: %q outside of package", ErrResourceNotFound, href)
	}
	data, err := c.pkg.ReadFile(name)
	if err != nil {
		return name, nil, err
	}
	return name, data, nil
}

// Locate finds and reads chapter document for decoded location.
func (p *Package) Locate(loc location.Location, formats *location.Formats) (*Chapter, error) {
	var (
		name string
		err  error
	)
	switch loc.Kind {
	case location.KindEpub:
		name, err = p.byOrdinal(loc.ChapterNumber)
	default:
		name, err = p.byNumber(loc.ChapterNumber, formats.ForKind(loc.Kind))
	}
	if err != nil {
		return nil, err
	}

	data, err := p.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackageRead, err)
	}
	p.log.Debug("Chapter located", zap.String("kind", loc.Kind.String()), zap.Int("chapter", loc.ChapterNumber), zap.String("entry", name))
	return &Chapter{Name: name, Data: data, pkg: p}, nil
}

type numbered struct {
	name   string
	number int
}

// byNumber selects documents matching any of the formats, orders them by the
// number captured from their names and returns the one carrying requested
// number. Names with captures which are not numbers are ordered as 0.
func (p *Package) byNumber(chapter int, formats []location.Format) (string, error) {
	var candidates []numbered
	for _, d := range p.docs {
		for _, f := range formats {
			m := f.NamePattern.FindStringSubmatch(d.Name)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				n = 0
			}
			candidates = append(candidates, numbered{name: d.Name, number: n})
			break
		}
	}
	slices.SortStableFunc(candidates, func(a, b numbered) int { return cmp.Compare(a.number, b.number) })

	for _, c := range candidates {
		if c.number == chapter {
			return c.name, nil
		}
	}
	return "", fmt.Errorf("%w: number %d among %d candidates", ErrChapterNotFound, chapter, len(candidates))
}

// byOrdinal orders all documents by name and returns 1-based chapter entry.
func (p *Package) byOrdinal(chapter int) (string, error) {
	names := make([]string, 0, len(p.docs))
	for _, d := range p.docs {
		names = append(names, d.Name)
	}
	slices.SortFunc(names, strings.Compare)

	idx := chapter - 1
	if idx < 0 || idx >= len(names) {
		return "", fmt.Errorf("%w: %d of %d", ErrChapterOutOfRange, chapter, len(names))
	}
	return names[idx], nil
}
