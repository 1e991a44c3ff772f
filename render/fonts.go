package render

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

// deviceFontFamily is the name generated @font-face is registered under.
const deviceFontFamily = "kae-device"

type deviceFont struct {
	Family string
	URL    string
}

var fontTypes = map[string]struct {
	kind string
	mime string
}{
	".ttf":   {"ttf", "font/ttf"},
	".otf":   {"otf", "font/otf"},
	".woff":  {"woff", "font/woff"},
	".woff2": {"woff2", "font/woff2"},
}

// findDeviceFont looks for the font file named by preferences in dir. Any
// problem results in nil and layout falls back to generic families.
func findDeviceFont(dir string, prefs Preferences, log *zap.Logger) *deviceFont {
	if !prefs.UseDeviceFont || len(dir) == 0 {
		return nil
	}
	name := prefs.DeviceFontName
	if len(name) == 0 {
		name = prefs.FontFamily
	}
	want := fontKey(name)
	if len(want) == 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Debug("Device fonts are not available", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		ft, ok := fontTypes[ext]
		if !ok {
			continue
		}
		key := fontKey(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if key != want && key != want+"regular" {
			continue
		}
		fname := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(fname)
		if err != nil {
			log.Debug("Unable to read device font", zap.String("file", fname), zap.Error(err))
			continue
		}
		if !filetype.Is(data, ft.kind) {
			log.Debug("Device font file is not recognized", zap.String("file", fname))
			continue
		}
		log.Debug("Using device font", zap.String("font", name), zap.String("file", fname))
		return &deviceFont{Family: deviceFontFamily, URL: encodeDataURI(ft.mime, data)}
	}
	log.Debug("Device font not found, using generic families", zap.String("font", name))
	return nil
}

func fontKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(name)))
}
