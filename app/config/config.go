package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/xtime"
)

// Default values applied by SetDefaults.
const (
	DefaultDocumentURL       = "ws://localhost:8000/rpc"
	DefaultDocumentNamespace = "roster"
	DefaultDocumentDatabase  = "roster"
	DefaultLockStaleAfter    = 15 * time.Minute
	DefaultDBFileName        = "roster.db"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Relational Relational
	Document   Document
	Lock       Lock
	Seed       Seed

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}

	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Relational defines the relational engine connection.
type Relational struct {
	// Driver is the SQL dialect: "sqlite" or "postgres".
	Driver sql.Null[types.Dialect] `json:"driver"`
	// DSN is the data source name passed to the driver.
	DSN sql.Null[string] `json:"dsn"`
}

// Document defines the document engine connection.
type Document struct {
	// URL is the SurrealDB RPC endpoint, e.g. ws://localhost:8000/rpc.
	URL       sql.Null[string] `json:"url"`
	Namespace sql.Null[string] `json:"namespace"`
	Database  sql.Null[string] `json:"database"`
	Username  sql.Null[string] `json:"username"`
	Password  sql.Null[string] `json:"password"`
}

// Lock defines the run lock behavior.
type Lock struct {
	// StaleAfter is the age after which a lock left behind by a crashed run may
	// be taken over. It serializes from/to xtime.Duration string values.
	// Zero disables takeover.
	StaleAfter sql.Null[time.Duration] `json:"stale_after"`
}

// Seed defines options for the built-in seeders.
type Seed struct {
	// AdminPassword is the password given to the seeded admin user. A random
	// one is generated and logged if unset.
	AdminPassword sql.Null[string] `json:"admin_password"`
}

type cfgWrapper struct {
	Relational relCfgWrapper  `json:"relational"`
	Document   docCfgWrapper  `json:"document"`
	Lock       lockCfgWrapper `json:"lock"`
	Seed       seedCfgWrapper `json:"seed"`
}
type relCfgWrapper struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}
type docCfgWrapper struct {
	URL       string `json:"url,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Database  string `json:"database,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}
type lockCfgWrapper struct {
	StaleAfter string `json:"stale_after,omitempty"`
}
type seedCfgWrapper struct {
	AdminPassword string `json:"admin_password,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Relational.Driver.Valid {
		w.Relational.Driver = string(c.Relational.Driver.V)
	}
	w.Relational.DSN = nullString(c.Relational.DSN)

	w.Document.URL = nullString(c.Document.URL)
	w.Document.Namespace = nullString(c.Document.Namespace)
	w.Document.Database = nullString(c.Document.Database)
	w.Document.Username = nullString(c.Document.Username)
	w.Document.Password = nullString(c.Document.Password)

	if c.Lock.StaleAfter.Valid {
		w.Lock.StaleAfter = xtime.FormatDuration(c.Lock.StaleAfter.V, time.Second)
	}

	w.Seed.AdminPassword = nullString(c.Seed.AdminPassword)

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Relational.Driver != "" {
		dialect, err := types.DialectFromString(w.Relational.Driver)
		if err != nil {
			return err
		}
		c.Relational.Driver = sql.Null[types.Dialect]{V: dialect, Valid: true}
	}
	setString(&c.Relational.DSN, w.Relational.DSN)

	setString(&c.Document.URL, w.Document.URL)
	setString(&c.Document.Namespace, w.Document.Namespace)
	setString(&c.Document.Database, w.Document.Database)
	setString(&c.Document.Username, w.Document.Username)
	setString(&c.Document.Password, w.Document.Password)

	if w.Lock.StaleAfter != "" {
		dur, err := xtime.ParseDuration(w.Lock.StaleAfter)
		if err != nil {
			return fmt.Errorf("failed parsing lock stale duration: %w", err)
		}
		c.Lock.StaleAfter = sql.Null[time.Duration]{V: dur, Valid: true}
	}

	setString(&c.Seed.AdminPassword, w.Seed.AdminPassword)

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
// The SQLite database file is placed in dataDir.
func (c *Config) SetDefaults(dataDir string) {
	if !c.Relational.Driver.Valid {
		c.Relational.Driver = sql.Null[types.Dialect]{V: types.DialectSQLite, Valid: true}
	}
	if !c.Relational.DSN.Valid && c.Relational.Driver.V == types.DialectSQLite {
		c.Relational.DSN = sql.Null[string]{V: filepath.Join(dataDir, DefaultDBFileName), Valid: true}
	}
	if !c.Document.URL.Valid {
		c.Document.URL = sql.Null[string]{V: DefaultDocumentURL, Valid: true}
	}
	if !c.Document.Namespace.Valid {
		c.Document.Namespace = sql.Null[string]{V: DefaultDocumentNamespace, Valid: true}
	}
	if !c.Document.Database.Valid {
		c.Document.Database = sql.Null[string]{V: DefaultDocumentDatabase, Valid: true}
	}
	if !c.Lock.StaleAfter.Valid {
		c.Lock.StaleAfter = sql.Null[time.Duration]{V: DefaultLockStaleAfter, Valid: true}
	}
}

// Validate checks that the configuration can be used to connect to both
// engines.
func (c *Config) Validate() error {
	var errs []error
	if !c.Relational.DSN.Valid || c.Relational.DSN.V == "" {
		errs = append(errs, errors.New("relational DSN is required"))
	}
	if c.Document.URL.Valid {
		if _, err := url.Parse(c.Document.URL.V); err != nil {
			errs = append(errs, fmt.Errorf("invalid document URL: %w", err))
		}
	}
	if c.Document.Username.Valid != c.Document.Password.Valid {
		errs = append(errs, errors.New("document username and password must be set together"))
	}
	if c.Lock.StaleAfter.Valid && c.Lock.StaleAfter.V < 0 {
		errs = append(errs, errors.New("lock stale duration can't be negative"))
	}

	return errors.Join(errs...)
}

func nullString(v sql.Null[string]) string {
	if v.Valid {
		return v.V
	}
	return ""
}

func setString(dst *sql.Null[string], v string) {
	if v != "" {
		*dst = sql.Null[string]{V: v, Valid: true}
	}
}
