package config

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"kae/misc"
)

type ReporterConfig struct {
	Destination string `yaml:"destination" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
}

// Prepare creates initialized empty reporter.
func (conf *ReporterConfig) Prepare() (*Report, error) {

	r := &Report{entries: make(map[string]entry)}

	if f, err := os.Create(conf.Destination); err == nil {
		r.file = f
	} else if f, err = os.CreateTemp("", misc.GetAppName()+"-report.*.zip"); err == nil {
		r.file = f
	} else {
		return nil, fmt.Errorf("unable to create report: %w", err)
	}
	return r, nil
}

// entry is either in memory data or a reference to file system item.
type entry struct {
	original string
	actual   string
	stamp    time.Time
	data     []byte
}

func (e entry) inMemory() bool {
	return e.data != nil
}

// Report accumulates everything needed for debug report archive: logs,
// configuration, device database snapshot and per bookmark artifacts. Pages
// may be rendered in parallel, all methods are safe for concurrent use. Nil
// report is valid and ignores everything.
type Report struct {
	mu      sync.Mutex
	entries map[string]entry
	file    *os.File
	// scratch holds directories owned by the report, removed on Close.
	scratch []string
}

// Close writes archive and removes stored directories.
func (r *Report) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.finalize()
	err = multierr.Append(err, r.file.Close())
	if err != nil {
		return err
	}
	return r.cleanup()
}

// Name returns absolute name of the archive.
func (r *Report) Name() string {
	if r == nil || r.file == nil {
		return ""
	}
	if n, err := filepath.Abs(r.file.Name()); err == nil {
		return n
	}
	return r.file.Name()
}

// Store references file or directory to be archived on Close, content is
// taken at that time. Storing different path under the same name is a
// programming error.
func (r *Report) Store(name, path string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.entries[name]; exists && old.original != path {
		panic(fmt.Sprintf("Attempt to overwrite file in the report for [%s]: was %s, now %s", name, old.original, path))
	}
	actual := path
	if p, err := filepath.Abs(path); err == nil {
		actual = p
	}
	r.entries[name] = entry{original: path, actual: actual}
}

// StoreData keeps data to be archived under name. Names must be unique.
func (r *Report) StoreData(name string, data []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("Attempt to overwrite data in the report for [%s]", name))
	}
	if data == nil {
		data = []byte{}
	}
	r.entries[name] = entry{data: data, stamp: time.Now()}
}

// StoreCopy snapshots file or directory now into private location. Name is
// versioned when already taken, so the same item may be stored repeatedly.
func (r *Report) StoreCopy(name, path string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	src, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	e := entry{original: path, stamp: time.Now()}
	if _, exists := r.entries[name]; exists {
		name = fmt.Sprintf("%s-%d", name, e.stamp.UnixNano())
	}

	dir, err := os.MkdirTemp("", misc.GetAppName()+"-r-")
	if err != nil {
		return err
	}
	r.scratch = append(r.scratch, dir)

	switch {
	case info.Mode().IsRegular():
		e.actual = filepath.Join(dir, filepath.Base(src))
		if err := copyFile(e.actual, src, info.ModTime()); err != nil {
			return err
		}
	case info.IsDir():
		e.actual = dir
		if err := walkFiles(src, func(rel, path string, info fs.FileInfo) error {
			return copyFile(filepath.Join(dir, rel), path, info.ModTime())
		}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unable to store '%s': not a file or directory", path)
	}
	r.entries[name] = e
	return nil
}

// walkFiles calls fn for every regular file under root with path relative to
// root. Links, sockets and the like are ignored.
func walkFiles(root string, fn func(rel, path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(rel, path, info)
	})
}

func copyFile(dst, src string, modTime time.Time) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, out.Close())
		if err == nil {
			err = os.Chtimes(dst, modTime, modTime)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// finalize writes manifest followed by all entries in name order. Entries
// referencing absent files are listed in manifest only.
func (r *Report) finalize() error {
	arc := zip.NewWriter(r.file)

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	now := time.Now()
	if err := addFile(arc, "MANIFEST", now, strings.NewReader(manifest(names, r.entries, now))); err != nil {
		return err
	}

	for _, name := range names {
		e := r.entries[name]
		if e.inMemory() {
			if err := addFile(arc, name, e.stamp, bytes.NewReader(e.data)); err != nil {
				return err
			}
			continue
		}
		info, err := os.Stat(e.actual)
		if err != nil {
			continue
		}
		switch {
		case info.Mode().IsRegular():
			if err := addPath(arc, name, e.actual, info.ModTime()); err != nil {
				return err
			}
		case info.IsDir():
			if err := walkFiles(e.actual, func(rel, path string, info fs.FileInfo) error {
				return addPath(arc, filepath.ToSlash(filepath.Join(name, rel)), path, info.ModTime())
			}); err != nil {
				return err
			}
		}
	}
	return arc.Close()
}

func manifest(names []string, entries map[string]entry, now time.Time) string {
	var b strings.Builder
	for _, name := range names {
		e := entries[name]
		stamp := e.stamp
		if stamp.IsZero() {
			stamp = now
		}
		fmt.Fprintf(&b, "%s\t%s\t%s : %s\n", stamp.UTC().Format(time.UnixDate), name, e.original, e.actual)
	}
	return b.String()
}

func addPath(arc *zip.Writer, name, path string, t time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return addFile(arc, name, t, f)
}

func addFile(arc *zip.Writer, name string, t time.Time, src io.Reader) error {
	w, err := arc.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: t})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// cleanup removes stored directories and private copies once the archive is
// written.
func (r *Report) cleanup() error {
	var err error
	for _, e := range r.entries {
		if e.inMemory() || len(e.actual) == 0 {
			continue
		}
		if info, e2 := os.Stat(e.actual); e2 == nil && info.IsDir() {
			err = multierr.Append(err, os.RemoveAll(e.actual))
		}
	}
	for _, dir := range r.scratch {
		err = multierr.Append(err, os.RemoveAll(dir))
	}
	return err
}
