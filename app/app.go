package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/roster/app/config"
	actx "go.hackfix.me/roster/app/context"
	aerrors "go.hackfix.me/roster/app/errors"
	"go.hackfix.me/roster/cli"
	"go.hackfix.me/roster/db/types"
)

// App is the application.
type App struct {
	name    string
	ctx     *actx.Context
	cli     *cli.CLI
	dataDir string
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application. configFile and dataDir are the default
// locations of the configuration file and the SQLite database, which can be
// changed via the CLI.
func New(name, configFile, dataDir string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: func() time.Time { return time.Now().UTC() },
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx, dataDir: dataDir}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(configFile, dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) (err error) {
	if err = app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if err = app.loadConfig(); err != nil {
		return err
	}

	defer func() {
		if cerr := app.ctx.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	return app.cli.Execute(app.ctx)
}

func (app *App) loadConfig() error {
	cfg := app.ctx.Config
	if cfg == nil {
		cfg = config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return aerrors.NewRuntimeError("failed loading configuration", err, "",
				"path", cfg.Path())
		}
	}

	if err := app.cli.ApplyConfig(cfg); err != nil {
		return aerrors.NewRuntimeError("invalid CLI option", err, "")
	}
	dataDir := app.cli.DataDir
	if dataDir == "" {
		dataDir = app.dataDir
	}
	cfg.SetDefaults(dataDir)
	if err := cfg.Validate(); err != nil {
		return aerrors.NewRuntimeError("invalid configuration", err, "",
			"path", cfg.Path())
	}
	app.ctx.Config = cfg

	if cfg.Relational.Driver.V == types.DialectSQLite && app.ctx.DB == nil {
		if err := app.ctx.FS.MkdirAll(dataDir, 0o700); err != nil {
			return aerrors.NewRuntimeError("failed creating data directory", err, "",
				"path", dataDir)
		}
	}

	return nil
}
