// Package epub gives read access to zip packaged books and finds chapter
// documents in them.
package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"

	"kae/archive"
)

var (
	// ErrPackageRead is returned when package could not be opened or its
	// structure could not be understood.
	ErrPackageRead = errors.New("unable to read package")
	// ErrChapterNotFound is returned when no document carries requested
	// chapter number.
	ErrChapterNotFound = errors.New("chapter not found")
	// ErrChapterOutOfRange is returned when chapter ordinal is outside of
	// package document list.
	ErrChapterOutOfRange = errors.New("chapter ordinal out of range")
	// ErrResourceNotFound is returned for references which could not be
	// resolved inside the package.
	ErrResourceNotFound = errors.New("resource not found")
)

const (
	containerPath  = "META-INF/container.xml"
	encryptionPath = "META-INF/encryption.xml"
	sinfPath       = "META-INF/sinf.xml"
)

// Document is a content document of the package.
type Document struct {
	// Name is full path of the entry inside the package.
	Name      string
	MediaType string
}

// Package is an opened book package. It must be closed when no longer needed.
type Package struct {
	path  string
	zr    *zip.ReadCloser
	files map[string]*zip.File
	lower map[string]string
	docs  []Document
	log   *zap.Logger
}

// Open opens package read only and indexes its content documents. Entry
// names not marked as UTF-8 are decoded with cp when it is not nil.
func Open(fname string, cp encoding.Encoding, log *zap.Logger) (*Package, error) {
	zr, err := zip.OpenReader(fname)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %w", ErrPackageRead, fname, err)
	}

	p := &Package{
		path:  fname,
		zr:    zr,
		files: make(map[string]*zip.File, len(zr.File)),
		lower: make(map[string]string, len(zr.File)),
		log:   log.Named("epub"),
	}
	if err := p.index(cp); err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w '%s': %w", ErrPackageRead, fname, err)
	}
	return p, nil
}

// Close releases package file.
func (p *Package) Close() error {
	if p == nil || p.zr == nil {
		return nil
	}
	err := p.zr.Close()
	p.zr = nil
	return err
}

// Path returns package file name.
func (p *Package) Path() string {
	return p.path
}

// Documents returns content documents in manifest order.
func (p *Package) Documents() []Document {
	return slices.Clone(p.docs)
}

// ReadFile returns data of the entry with given name. Names are matched
// exactly first and then ignoring case.
func (p *Package) ReadFile(name string) ([]byte, error) {
	f, ok := p.files[name]
	if !ok {
		if actual, found := p.lower[strings.ToLower(name)]; found {
			f = p.files[actual]
		}
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	data, err := archive.ReadEntry(f, archive.MaxEntrySize)
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", name, err)
	}
	return data, nil
}

// Has reports whether package contains entry with given name.
func (p *Package) Has(name string) bool {
	if _, ok := p.files[name]; ok {
		return true
	}
	_, ok := p.lower[strings.ToLower(name)]
	return ok
}

func (p *Package) index(cp encoding.Encoding) error {
	err := archive.Walk(&p.zr.Reader, "", cp, func(name string, f *zip.File) error {
		p.files[name] = f
		p.lower[strings.ToLower(name)] = name
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.checkEncryption(); err != nil {
		return err
	}

	opf := p.rootfile()
	if len(opf) > 0 {
		docs, err := p.manifest(opf)
		if err != nil {
			p.log.Debug("Unable to use package manifest, scanning entries", zap.String("opf", opf), zap.Error(err))
		} else {
			p.docs = docs
		}
	}
	if len(p.docs) == 0 {
		p.docs = p.scanDocuments()
	}
	if len(p.docs) == 0 {
		return errors.New("package has no content documents")
	}
	return nil
}

// rootfile finds package document through container, falling back to the
// first .opf entry.
func (p *Package) rootfile() string {
	if data, err := p.ReadFile(containerPath); err == nil {
		if doc, err := parseXML(data); err == nil {
			for _, rf := range doc.FindElements("//rootfile") {
				if full := strings.TrimSpace(rf.SelectAttrValue("full-path", "")); len(full) > 0 && p.Has(full) {
					return full
				}
			}
		}
	}
	var names []string
	for name := range p.files {
		if strings.EqualFold(path.Ext(name), ".opf") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	slices.Sort(names)
	return names[0]
}

func (p *Package) manifest(opf string) ([]Document, error) {
	data, err := p.ReadFile(opf)
	if err != nil {
		return nil, err
	}
	doc, err := parseXML(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse '%s': %w", opf, err)
	}

	var docs []Document
	for _, item := range doc.FindElements("//manifest/item") {
		mt := strings.ToLower(strings.TrimSpace(item.SelectAttrValue("media-type", "")))
		if !isDocumentType(mt) {
			continue
		}
		name := Resolve(opf, item.SelectAttrValue("href", ""))
		if len(name) == 0 || !p.Has(name) {
			p.log.Debug("Manifest item is missing from package", zap.String("href", item.SelectAttrValue("href", "")))
			continue
		}
		docs = append(docs, Document{Name: name, MediaType: mt})
	}
	return docs, nil
}

func (p *Package) scanDocuments() []Document {
	var docs []Document
	for name := range p.files {
		switch strings.ToLower(path.Ext(name)) {
		case ".xhtml", ".html", ".htm":
			docs = append(docs, Document{Name: name, MediaType: "application/xhtml+xml"})
		}
	}
	slices.SortFunc(docs, func(a, b Document) int { return strings.Compare(a.Name, b.Name) })
	return docs
}

// Font obfuscation is not DRM.
var fontObfuscation = map[string]bool{
	"http://www.idpf.org/2008/embedding": true,
	"http://ns.adobe.com/pdf/enc#RC":     true,
}

func (p *Package) checkEncryption() error {
	if p.Has(sinfPath) {
		return errors.New("package is DRM protected (FairPlay)")
	}
	if !p.Has(encryptionPath) {
		return nil
	}
	data, err := p.ReadFile(encryptionPath)
	if err != nil {
		return err
	}
	doc, err := parseXML(data)
	if err != nil {
		return errors.New("package is DRM protected (unreadable encryption descriptor)")
	}
	for _, ed := range doc.FindElements("//EncryptedData") {
		algo := ""
		if m := ed.FindElement("EncryptionMethod"); m != nil {
			algo = m.SelectAttrValue("Algorithm", "")
		}
		if !fontObfuscation[algo] {
			return fmt.Errorf("package is DRM protected (%s)", algo)
		}
	}
	return nil
}

func isDocumentType(mt string) bool {
	switch mt {
	case "application/xhtml+xml", "text/html", "application/xml+xhtml":
		return true
	}
	return false
}

func parseXML(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Permissive:    true,
	}
	if err := doc.ReadFromBytes(stripBOM(data)); err != nil {
		return nil, err
	}
	return doc, nil
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// Resolve returns full package name of href relative to the entry base.
// Empty string is returned for references which leave the package: absolute
// paths, traversals above root, URLs with schemes.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if len(href) == 0 || strings.HasPrefix(href, "/") {
		return ""
	}
	if u, err := url.Parse(href); err == nil && len(u.Scheme) > 0 {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	name := path.Clean(path.Join(path.Dir(base), href))
	if !archive.IsSafePath(name) || name == "." {
		return ""
	}
	return name
}
