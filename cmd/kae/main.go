package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"kae/common"
	"kae/export"
	"kae/misc"
	"kae/state"
)

const renderHelp = `%s
DEVICE:
    path to the mounted reader, it must have .kobo/KoboReader.sqlite

DESTINATION:
    directory for produced pages, current working directory when absent,
    file names come from output name template

Produced images are %s of device page size scaled by reading zoom. When page
could not be reconstructed blank placeholder is written and, if enabled,
annotation text is saved next to it.
`

const dumpHelp = `%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Effective configuration is default values with configuration file applied on
top. Use --default to see configuration embedded into the program.
`

func commands() []*cli.Command {
	formats := &cli.StringFlag{Name: "formats", Aliases: []string{"f"}, Usage: "load device location formats from `FILE` (JSON or YAML) instead of configured one"}

	return []*cli.Command{
		{
			Name:   "render",
			Usage:  "Reconstructs pages of annotated locations",
			Action: export.Run,
			Flags: []cli.Flag{
				formats,
				&cli.StringSliceFlag{Name: "id", Usage: "render bookmark with `ID`, may be repeated"},
				&cli.StringFlag{Name: "volume", Usage: "render all annotations of the book with `VOLUMEID`"},
				&cli.BoolFlag{Name: "all", Usage: "render all annotations found on device"},
				&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "replace existing files in destination"},
				&cli.StringFlag{Name: "force-zip-cp", Usage: "use `ENCODING` for non UTF-8 file names inside book packages (IANA character set name)"},
			},
			ArgsUsage:          "DEVICE [DESTINATION]",
			CustomHelpTemplate: fmt.Sprintf(renderHelp, cli.CommandHelpTemplate, strings.Join(common.OutputFmtNames(), " or ")),
		},
		{
			Name:      "decode",
			Usage:     "Prints decoded locations for device content ids (YAML)",
			Action:    export.Decode,
			Flags:     []cli.Flag{formats},
			ArgsUsage: "CONTENTID...",
		},
		{
			Name:      "list",
			Usage:     "Lists books having annotations on device (YAML)",
			Action:    export.List,
			ArgsUsage: "DEVICE",
		},
		{
			Name:               "dumpconfig",
			Usage:              "Dumps either default or actual configuration (YAML)",
			Flags:              []cli.Flag{&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"}},
			Action:             dumpConfig,
			ArgsUsage:          "DESTINATION",
			CustomHelpTemplate: fmt.Sprintf(dumpHelp, cli.CommandHelpTemplate),
		},
	}
}

func main() {
	// layout engines may take a while, let them stop cleanly
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	cmds := commands()
	for _, c := range cmds {
		c.OnUsageError = passUsageError
	}

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "reconstructs Kobo reader pages for annotations",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          setup,
		After:           teardown,
		OnUsageError:    passUsageError,
		ExitErrHandler:  logExitError,
		CommandNotFound: unknownCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log everything and produce report archive for troubleshooting"},
		},
		Commands: cmds,
	}

	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		// logger may be not ready yet or already closed
		if !errorLogged {
			fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
		}
		os.Exit(1)
	}
}
