// Package kobo reads bookmarks, reading settings and markup layers from
// mounted device.
package kobo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"kae/common"
	"kae/location"
	"kae/render"
)

// ErrNotFound is returned when bookmark does not exist.
var ErrNotFound = errors.New("bookmark not found")

const (
	// DatabasePath is location of device database relative to mount root.
	DatabasePath = ".kobo/KoboReader.sqlite"
	// MarkupsPath is directory with markup layers relative to mount root.
	MarkupsPath = ".kobo/markups"
)

// DefaultPrefixes are device side prefixes of the mount root.
var DefaultPrefixes = []string{"file:///mnt/onboard/", "/mnt/onboard/"}

// markupExts in order of preference, device keeps drawing as SVG and may
// keep raster capture next to it.
var markupExts = []string{".svg", ".jpg"}

// Options control how device data is interpreted.
type Options struct {
	// Prefixes are device paths of the mount root.
	Prefixes []string
	// MarkupsDir overrides markup layers directory.
	MarkupsDir string
	// MarkupMode is how markup layers are positioned, device does not record
	// it.
	MarkupMode common.MarkupMode
}

// Bookmark is annotation store record with its book details.
type Bookmark struct {
	location.Record
	VolumeID string
	Type     string
	Created  string
	Title    string
	Author   string
}

// Book is a volume having annotations.
type Book struct {
	VolumeID    string
	Title       string
	Author      string
	Annotations int
}

// Store is read only view of device database. Single connection is shared
// and serialized.
type Store struct {
	root string
	opts Options

	mu   sync.Mutex
	conn *sqlite.Conn
	log  *zap.Logger
}

// Open opens device database under mount root read only.
func Open(root string, opts Options, log *zap.Logger) (*Store, error) {
	if len(opts.Prefixes) == 0 {
		opts.Prefixes = DefaultPrefixes
	}
	if len(opts.MarkupsDir) == 0 {
		opts.MarkupsDir = filepath.Join(root, filepath.FromSlash(MarkupsPath))
	}

	db := filepath.Join(root, filepath.FromSlash(DatabasePath))
	if _, err := os.Stat(db); err != nil {
		return nil, fmt.Errorf("device database is not available: %w", err)
	}
	conn, err := sqlite.OpenConn(db, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("unable to open device database '%s': %w", db, err)
	}
	return &Store{root: root, opts: opts, conn: conn, log: log.Named("kobo")}, nil
}

// Close releases database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Root returns device mount root.
func (s *Store) Root() string {
	return s.root
}

const bookmarkQuery = `
SELECT b.BookmarkID, b.VolumeID, b.ContentID, b.StartContainerPath, b.EndContainerPath,
       b.ChapterProgress, b.Text, b.Annotation, b.Type, b.DateCreated,
       COALESCE(book.Title, ''), COALESCE(book.Attribution, '')
FROM Bookmark b
LEFT JOIN content book ON book.ContentID = b.VolumeID`

// Bookmark returns bookmark with its markup layer, if device has one.
func (s *Store) Bookmark(ctx context.Context, id string) (*Bookmark, error) {
	var found *Bookmark
	err := s.execute(ctx, bookmarkQuery+` WHERE b.BookmarkID = ?`, []any{id}, func(stmt *sqlite.Stmt) error {
		found = s.scanBookmark(stmt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read bookmark '%s': %w", id, err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.attachMarkup(found); err != nil {
		return nil, err
	}
	return found, nil
}

// Bookmarks lists annotations of the volume (all volumes when empty) having
// either text or markup layer, oldest first. When types are given only
// bookmarks of those types are returned.
func (s *Store) Bookmarks(ctx context.Context, volume string, types ...string) ([]*Bookmark, error) {
	query := bookmarkQuery + ` WHERE (b.Text IS NOT NULL OR b.Type = 'markup')`
	var args []any
	if len(volume) > 0 {
		query += ` AND b.VolumeID = ?`
		args = append(args, volume)
	}
	if len(types) > 0 {
		query += ` AND b.Type IN (` + strings.TrimSuffix(strings.Repeat("?,", len(types)), ",") + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY b.DateCreated, b.BookmarkID`

	var list []*Bookmark
	err := s.execute(ctx, query, args, func(stmt *sqlite.Stmt) error {
		list = append(list, s.scanBookmark(stmt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list bookmarks: %w", err)
	}
	for _, b := range list {
		if err := s.attachMarkup(b); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Books lists volumes having annotations.
func (s *Store) Books(ctx context.Context) ([]Book, error) {
	const query = `
SELECT b.VolumeID, COALESCE(book.Title, ''), COALESCE(book.Attribution, ''), COUNT(b.BookmarkID)
FROM Bookmark b
LEFT JOIN content book ON book.ContentID = b.VolumeID
WHERE (b.Text IS NOT NULL OR b.Type = 'markup')
GROUP BY b.VolumeID
ORDER BY 2, 1`

	var books []Book
	err := s.execute(ctx, query, nil, func(stmt *sqlite.Stmt) error {
		books = append(books, Book{
			VolumeID:    stmt.ColumnText(0),
			Title:       stmt.ColumnText(1),
			Author:      stmt.ColumnText(2),
			Annotations: stmt.ColumnInt(3),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list books: %w", err)
	}
	return books, nil
}

// Preferences returns reading settings used for the content. Book settings
// are looked up first, content record next. Anything device does not have is
// taken from defaults.
func (s *Store) Preferences(ctx context.Context, contentID string, defaults render.Preferences) (render.Preferences, error) {
	queries := []string{
		`SELECT cs.ReadingFontFamily, cs.ReadingFontSize, cs.ZoomFactor
FROM content_settings cs JOIN Bookmark b ON cs.ContentID = b.VolumeID
WHERE b.ContentID = ? LIMIT 1`,
		`SELECT ReadingFontFamily, ReadingFontSize, ZoomFactor FROM content WHERE ContentID = ? LIMIT 1`,
	}

	prefs := defaults
	for _, q := range queries {
		found := false
		err := s.execute(ctx, q, []any{contentID}, func(stmt *sqlite.Stmt) error {
			found = true
			if family := strings.TrimSpace(stmt.ColumnText(0)); len(family) > 0 {
				prefs.FontFamily = family
			}
			if size := stmt.ColumnInt(1); size > 0 {
				prefs.FontSizePx = size
			}
			if zoom := stmt.ColumnFloat(2); zoom > 0 {
				prefs.ZoomFactor = zoom
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return defaults, ctx.Err()
			}
			// older firmware does not have all the tables
			s.log.Debug("Reading settings are not available", zap.String("content", contentID), zap.Error(err))
			continue
		}
		if found {
			return prefs, nil
		}
	}
	s.log.Debug("No reading settings on device, using defaults", zap.String("content", contentID))
	return defaults, nil
}

// Markup reads markup layer of the bookmark. Missing layer is not an error,
// nil is returned.
func (s *Store) Markup(bookmarkID string) ([]byte, error) {
	if len(bookmarkID) == 0 || strings.ContainsAny(bookmarkID, `/\`) || bookmarkID == ".." {
		return nil, fmt.Errorf("invalid bookmark id %q", bookmarkID)
	}
	for _, ext := range markupExts {
		data, err := os.ReadFile(filepath.Join(s.opts.MarkupsDir, bookmarkID+ext))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("unable to read markup layer: %w", err)
		}
	}
	return nil, nil
}

// ResolvePackage maps device path of the book to the mounted file system.
func (s *Store) ResolvePackage(devicePath string) string {
	for _, p := range s.opts.Prefixes {
		if rest, ok := strings.CutPrefix(devicePath, p); ok {
			return filepath.Join(s.root, filepath.FromSlash(rest))
		}
	}
	if rest, ok := strings.CutPrefix(devicePath, "file://"); ok {
		return filepath.FromSlash(rest)
	}
	return devicePath
}

func (s *Store) attachMarkup(b *Bookmark) error {
	data, err := s.Markup(b.BookmarkID)
	if err != nil {
		return err
	}
	b.Markup = data
	return nil
}

func (s *Store) scanBookmark(stmt *sqlite.Stmt) *Bookmark {
	var progress any
	switch stmt.ColumnType(5) {
	case sqlite.TypeInteger, sqlite.TypeFloat:
		progress = stmt.ColumnFloat(5)
	case sqlite.TypeText:
		progress = stmt.ColumnText(5)
	}
	return &Bookmark{
		Record: location.Record{
			BookmarkID:         stmt.ColumnText(0),
			ContentID:          stmt.ColumnText(2),
			StartContainerPath: stmt.ColumnText(3),
			EndContainerPath:   stmt.ColumnText(4),
			ChapterProgress:    progress,
			Text:               stmt.ColumnText(6),
			Annotation:         stmt.ColumnText(7),
			MarkupMode:         s.opts.MarkupMode,
		},
		VolumeID: stmt.ColumnText(1),
		Type:     stmt.ColumnText(8),
		Created:  stmt.ColumnText(9),
		Title:    stmt.ColumnText(10),
		Author:   stmt.ColumnText(11),
	}
}

// execute runs query with cancellation tied to ctx.
func (s *Store) execute(ctx context.Context, query string, args []any, fn func(*sqlite.Stmt) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errors.New("device database is closed")
	}
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	return sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: fn})
}
