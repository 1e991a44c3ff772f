// Package archive builds Walk abstraction on top of "archive/zip".
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/encoding"
)

// MaxEntrySize limits amount of data read from a single package entry.
const MaxEntrySize = 256 << 20

// ErrEntryTooLarge is returned when entry data exceeds requested limit.
var ErrEntryTooLarge = errors.New("zip entry is too large")

// WalkFunc is the type of the function called for each file in archive
// visited by Walk. The name argument is entry name decoded to UTF-8, the file
// argument is the zip.File structure for the entry which satisfies match
// condition. If an error is returned, processing stops.
type WalkFunc func(name string, file *zip.File) error

// Walk walks the all files in the archive which names start with prefix,
// calling walkFn for each item. Entry names not marked as UTF-8 are decoded
// with cp when it is not nil. Entries with path traversal components ("..")
// or absolute paths stop processing to prevent Zip Slip attacks.
func Walk(r *zip.Reader, prefix string, cp encoding.Encoding, walkFn WalkFunc) error {
	for _, f := range r.File {
		name := EntryName(f, cp)
		if !IsSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if !f.FileInfo().IsDir() && strings.HasPrefix(name, prefix) {
			if err := walkFn(name, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// EntryName returns name of the entry, decoding legacy names with cp.
func EntryName(f *zip.File, cp encoding.Encoding) string {
	if !f.NonUTF8 || cp == nil {
		return f.Name
	}
	if name, err := cp.NewDecoder().String(f.Name); err == nil {
		return name
	}
	return f.Name
}

// ReadEntry reads complete entry data refusing to read more than limit bytes.
func ReadEntry(f *zip.File, limit int64) ([]byte, error) {
	if limit > 0 && f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrEntryTooLarge, f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rd io.Reader = rc
	if limit > 0 {
		// header sizes could lie
		rd = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}
	return data, nil
}

// IsSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func IsSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
