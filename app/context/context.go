package context

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/roster/app/config"
	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/docdb"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context  // global context
	FS      vfs.FileSystem   // filesystem
	Env     Environment      // process environment
	Logger  *slog.Logger     // global logger
	TimeNow func() time.Time // current time
	Config  *config.Config   // loaded configuration

	// Engines. They're opened on first use from the configuration, unless set
	// beforehand.
	DB       *db.DB
	DocStore docdb.Store

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Metadata
	Version *VersionInfo

	opened []func() error
}

// RelationalDB returns the relational database, opening it if needed.
func (c *Context) RelationalDB() (*db.DB, error) {
	if c.DB != nil {
		return c.DB, nil
	}

	rcfg := c.Config.Relational
	d, err := db.Open(c.Ctx, rcfg.Driver.V, rcfg.DSN.V, c.TimeNow)
	if err != nil {
		return nil, err
	}
	c.DB = d
	c.opened = append(c.opened, d.Close)
	c.Logger.Debug("opened relational database", "driver", rcfg.Driver.V)

	return d, nil
}

// DocumentStore returns the document store, opening it if needed.
//
//nolint:ireturn // Backend is chosen by configuration.
func (c *Context) DocumentStore() (docdb.Store, error) {
	if c.DocStore != nil {
		return c.DocStore, nil
	}

	dcfg := c.Config.Document
	opts := []docdb.SurrealOption{docdb.WithNamespace(dcfg.Namespace.V, dcfg.Database.V)}
	if dcfg.Username.Valid {
		opts = append(opts, docdb.WithCredentials(dcfg.Username.V, dcfg.Password.V))
	}
	store, err := docdb.Open(c.Ctx, dcfg.URL.V, opts...)
	if err != nil {
		return nil, err
	}
	c.DocStore = store
	c.opened = append(c.opened, func() error { return store.Close(context.Background()) })
	c.Logger.Debug("opened document store", "url", dcfg.URL.V)

	return store, nil
}

// Close closes the engines opened by this Context. Engines set from outside
// are left open.
func (c *Context) Close() error {
	var errs []error
	for _, closeFn := range c.opened {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.opened = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed closing engines: %w", err)
	}
	return nil
}
