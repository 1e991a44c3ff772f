package main

import (
	"context"
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"kae/config"
	"kae/state"
)

// dumpConfig writes either embedded default or effective configuration.
func dumpConfig(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)
	if extra := cmd.Args().Slice(); len(extra) > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", extra[1:]))
	}

	kind, data := "actual", []byte(nil)
	if cmd.Bool("default") {
		kind = "default"
		data, err = config.Prepare()
	} else {
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	var (
		out  io.Writer = os.Stdout
		name           = "STDOUT"
	)
	if fname := cmd.Args().Get(0); len(fname) > 0 {
		f, e := os.Create(fname)
		if e != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, e)
		}
		defer func() {
			if e := f.Close(); e != nil && err == nil {
				err = fmt.Errorf("unable to write configuration: %w", e)
			}
		}()
		out, name = f, fname
	}

	env.Log.Info("Writing configuration", zap.String("state", kind), zap.String("file", name))
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
