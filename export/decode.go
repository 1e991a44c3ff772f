package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"kae/kobo"
	"kae/location"
	"kae/state"
)

// decoded is printable form of location.
type decoded struct {
	ContentID string `yaml:"content_id"`
	Kind      string `yaml:"kind,omitempty"`
	Package   string `yaml:"package,omitempty"`
	Chapter   int    `yaml:"chapter,omitempty"`
	Offset    int    `yaml:"offset,omitempty"`
	Error     string `yaml:"error,omitempty"`
}

// Decode prints decoded locations for content ids given on command line.
func Decode(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() == 0 {
		return errors.New("no content ids have been specified")
	}
	formats, err := env.LoadFormats(cmd.String("formats"))
	if err != nil {
		return fmt.Errorf("unable to prepare location formats: %w", err)
	}
	return decodeIDs(os.Stdout, formats, cmd.Args().Slice(), env.Log.Named("decode"))
}

func decodeIDs(w io.Writer, formats *location.Formats, ids []string, log *zap.Logger) error {
	list := make([]decoded, 0, len(ids))
	for _, id := range ids {
		d := decoded{ContentID: id}
		loc, err := formats.Decode(id)
		if err != nil {
			log.Debug("Unable to decode content id", zap.String("content", id), zap.Error(err))
			d.Error = err.Error()
		} else {
			d.Kind, d.Package, d.Chapter, d.Offset = loc.Kind.String(), loc.PackagePath, loc.ChapterNumber, loc.Offset
		}
		list = append(list, d)
	}
	return writeYAML(w, list)
}

type book struct {
	VolumeID    string `yaml:"volume"`
	Title       string `yaml:"title,omitempty"`
	Author      string `yaml:"author,omitempty"`
	Annotations int    `yaml:"annotations"`
}

// List prints books of the device having annotations.
func List(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("list")

	device := cmd.Args().Get(0)
	if len(device) == 0 {
		return errors.New("no device mount point has been specified")
	}
	store, err := kobo.Open(device, kobo.Options{Prefixes: env.Cfg.Device.OnboardPrefixes}, env.Log)
	if err != nil {
		return err
	}
	defer store.Close()

	return listBooks(ctx, os.Stdout, store, log)
}

func listBooks(ctx context.Context, w io.Writer, store *kobo.Store, log *zap.Logger) error {
	books, err := store.Books(ctx)
	if err != nil {
		return err
	}
	log.Debug("Books with annotations", zap.Int("count", len(books)))

	list := make([]book, 0, len(books))
	for _, b := range books {
		list = append(list, book{VolumeID: b.VolumeID, Title: b.Title, Author: b.Author, Annotations: b.Annotations})
	}
	return writeYAML(w, list)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("unable to output results: %w", err)
	}
	return enc.Close()
}
