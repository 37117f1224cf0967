package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/config"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/server"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

var flagConfig = &cli.StringFlag{
	Name:    "config",
	Usage:   "Optional TOML config file",
	EnvVars: []string{"REGISTRY_CONFIG"},
}

var flagDataDir = &cli.StringFlag{
	Name:  "data",
	Usage: "Data directory (overrides DATA_DIR)",
}

var flagVerbose = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Log to stderr at debug level",
}

var flagKind = &cli.StringFlag{
	Name:  "kind",
	Value: string(types.KindDownloaded),
	Usage: "Application list: downloaded or signed",
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "registryctl",
		Usage:  "Inspect and maintain an application registry data directory",
		Writer: out,
		Flags:  []cli.Flag{flagConfig, flagDataDir, flagVerbose},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List applications of one kind, newest first",
				Flags: []cli.Flag{flagKind},
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					kind, err := types.ParseKind(cCtx.String(flagKind.Name))
					if err != nil {
						return err
					}
					apps, err := srv.Registry().List(cCtx.Context, kind)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, apps)
				}),
			},
			{
				Name:      "import",
				Usage:     "Commit a bundle file",
				ArgsUsage: "<bundle>",
				Flags: []cli.Flag{
					flagKind,
					&cli.StringFlag{Name: "name", Usage: "Display name (defaults to the file name)"},
					&cli.StringFlag{Name: "bundle-id", Usage: "Bundle identifier"},
					&cli.StringFlag{Name: "version", Usage: "Version string"},
					&cli.StringFlag{Name: "icon", Usage: "Path to an icon image"},
				},
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					path := cCtx.Args().First()
					if path == "" {
						return errors.New("import needs a bundle path")
					}
					kind, err := types.ParseKind(cCtx.String(flagKind.Name))
					if err != nil {
						return err
					}

					meta := types.Metadata{
						Kind:             kind,
						Name:             cCtx.String("name"),
						BundleIdentifier: cCtx.String("bundle-id"),
						Version:          cCtx.String("version"),
					}
					if meta.Name == "" {
						meta.Name = filepath.Base(path)
					}
					if icon := cCtx.String("icon"); icon != "" {
						if meta.Icon, err = os.ReadFile(icon); err != nil {
							return fmt.Errorf("read icon: %w", err)
						}
					}

					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("open bundle: %w", err)
					}
					defer f.Close()

					rec, err := srv.Registry().CommitNew(cCtx.Context, meta, f)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, rec)
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove an application",
				ArgsUsage: "<id>",
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					id := cCtx.Args().First()
					if id == "" {
						return errors.New("remove needs an application id")
					}
					if err := srv.Registry().Remove(cCtx.Context, id); err != nil {
						return err
					}
					fmt.Fprintln(cCtx.App.Writer, "removed", id)
					return nil
				}),
			},
			{
				Name:      "status",
				Usage:     "Set an application's signing status",
				ArgsUsage: "<id> <state>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Usage: "Failure reason for signing_failed"},
				},
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					if cCtx.NArg() != 2 {
						return errors.New("status needs <id> <state>")
					}
					status := types.SigningStatus{
						State:  types.SigningState(cCtx.Args().Get(1)),
						Reason: cCtx.String("reason"),
					}
					rec, err := srv.Registry().UpdateSigningStatus(cCtx.Context, cCtx.Args().Get(0), status)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, rec)
				}),
			},
			{
				Name:  "sweep",
				Usage: "Reconcile application directories with the database",
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					report, err := srv.Registry().Sweep(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, report)
				}),
			},
			{
				Name:  "sources",
				Usage: "List application sources",
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					sources, err := srv.Repository().ListSources(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, sources)
				}),
			},
			{
				Name:      "export",
				Usage:     "Write an application directory as tar.zst",
				ArgsUsage: "<id> <file>",
				Action: withRegistry(func(cCtx *cli.Context, srv *server.Server) error {
					if cCtx.NArg() != 2 {
						return errors.New("export needs <id> <file>")
					}
					f, err := os.Create(cCtx.Args().Get(1))
					if err != nil {
						return err
					}
					if err := srv.Registry().Export(cCtx.Context, cCtx.Args().Get(0), f); err != nil {
						f.Close()
						os.Remove(f.Name())
						return err
					}
					return f.Close()
				}),
			},
		},
	}
}

// withRegistry opens the data directory for the duration of one command.
func withRegistry(fn func(*cli.Context, *server.Server) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		cfg, err := config.LoadFile(cCtx.String(flagConfig.Name))
		if err != nil {
			return err
		}
		if dir := cCtx.String(flagDataDir.Name); dir != "" {
			cfg.Storage.DataDir = dir
		}

		logger := zap.NewNop()
		if cCtx.Bool(flagVerbose.Name) {
			logger = logging.NewDevelopment()
		}

		ctx := cCtx.Context
		if ctx == nil {
			ctx = context.Background()
		}
		srv, err := server.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer srv.Close()
		return fn(cCtx, srv)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
