package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/roster/app/config"
	actx "go.hackfix.me/roster/app/context"
	"go.hackfix.me/roster/db/types"
)

// CLI is the command line interface of Roster.
type CLI struct {
	Migrate         Migrate         `kong:"cmd,help='Apply pending migrations of both engines.'"`
	MigrateRollback MigrateRollback `kong:"cmd,name='migrate:rollback',help='Roll back the latest migrations of each engine.'"`
	Seed            Seed            `kong:"cmd,help='Run pending seeders of both engines.'"`
	SeedRollback    SeedRollback    `kong:"cmd,name='seed:rollback',help='Roll back executed seeders of each engine.'"`
	Fresh           Fresh           `kong:"cmd,name='db:fresh',help='Apply pending migrations, then run pending seeders.'"`
	Reset           Reset           `kong:"cmd,name='db:reset',help='Drop everything in both engines, then run db:fresh.'"`
	Status          Status          `kong:"cmd,name='db:status',help='Show executed and pending units of each engine.'"`
	Unlock          Unlock          `kong:"cmd,name='db:unlock',help='Remove a run lock left behind by a crashed process.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: I'm deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since I want to manage configuration
	// independently from the CLI.
	ConfigFile string `kong:"default='${configFile}',help='Path to the Roster configuration file.'"`
	DataDir    string `kong:"default='${dataDir}',help='Path to the directory where Roster data is stored.'"`

	Relational struct {
		Driver string `help:"Relational engine driver (sqlite, postgres)."`
		DSN    string `help:"Relational engine data source name."`
	} `embed:"" prefix:"relational-"`
	Document struct {
		URL string `help:"Document engine endpoint URL."`
	} `embed:"" prefix:"document-"`

	Version kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("roster"),
		kong.Description("Migration and seed orchestration for relational and document engines."),
		kong.UsageOnError(),
		kong.DefaultEnvars("ROSTER"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig overrides configuration values with the ones set via CLI flags
// or environment variables.
func (c *CLI) ApplyConfig(cfg *config.Config) error {
	if c.Relational.Driver != "" {
		dialect, err := types.DialectFromString(c.Relational.Driver)
		if err != nil {
			return err
		}
		current := types.DialectSQLite
		if cfg.Relational.Driver.Valid {
			current = cfg.Relational.Driver.V
		}
		if current != dialect && c.Relational.DSN == "" {
			// A DSN from the configuration belongs to the other driver.
			cfg.Relational.DSN = sql.Null[string]{}
		}
		cfg.Relational.Driver = sql.Null[types.Dialect]{V: dialect, Valid: true}
	}
	if c.Relational.DSN != "" {
		cfg.Relational.DSN = sql.Null[string]{V: c.Relational.DSN, Valid: true}
	}
	if c.Document.URL != "" {
		cfg.Document.URL = sql.Null[string]{V: c.Document.URL, Valid: true}
	}

	return nil
}
