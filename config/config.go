// Package config reads the configuration file shared by the bsv commands
// and builds the objects it describes.
//
// The file is JSON,
// or TOML if its name ends in .toml.
// Every setting has a default,
// so an empty file (or none at all) gives a client
// for the Walrus testnet with a versions.json ledger in the current directory.
package config

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	_ "github.com/lib/pq"           // register the postgres driver for SQL ledgers
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver for SQL ledgers
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/client"
	"github.com/bobg/bsv/frame"
	"github.com/bobg/bsv/ledger"
	"github.com/bobg/bsv/retry"
	"github.com/bobg/bsv/signer"
	"github.com/bobg/bsv/store"
	"github.com/bobg/bsv/store/lru"
	"github.com/bobg/bsv/store/walrus"
)

var log = logrus.WithField("logger", "config")

// Config is the contents of a configuration file.
type Config struct {
	// Store configures the blob store.
	// Its "type" entry names a registered store.Factory,
	// and the rest are that factory's parameters.
	Store map[string]interface{} `json:"store" toml:"store"`

	Ledger LedgerConfig `json:"ledger" toml:"ledger"`
	Retry  RetryConfig  `json:"retry" toml:"retry"`

	Epochs    int    `json:"epochs" toml:"epochs"`
	Deletable bool   `json:"deletable" toml:"deletable"`
	Framing   string `json:"framing" toml:"framing"`

	// Cache is the number of blobs to keep in an in-memory read cache.
	// Zero means no cache.
	Cache int `json:"cache" toml:"cache"`

	LogLevel  string `json:"log_level" toml:"log_level"`
	SentryDSN string `json:"sentry_dsn" toml:"sentry_dsn"`

	// Listen is the address the HTTP server listens on.
	Listen string `json:"listen" toml:"listen"`

	// MaxUpload is the largest upload the HTTP server accepts, in megabytes.
	MaxUpload int `json:"max_upload" toml:"max_upload"`

	// KeyEnv names the environment variable holding the signer's private key.
	KeyEnv string `json:"key_env" toml:"key_env"`
}

// LedgerConfig says where version history is kept.
type LedgerConfig struct {
	// Type is "file" (the default), "sqlite3", or "postgres".
	Type string `json:"type" toml:"type"`

	// Path is the ledger file for type "file".
	Path string `json:"path" toml:"path"`

	// Conn is the connection string for the SQL types.
	Conn string `json:"conn" toml:"conn"`

	// Strict makes a corrupt ledger an error rather than a fresh start.
	Strict bool `json:"strict" toml:"strict"`
}

// RetryConfig is the retry policy for writes.
type RetryConfig struct {
	Attempts int      `json:"attempts" toml:"attempts"`
	Delay    Duration `json:"delay" toml:"delay"`

	// Classify stops retrying failures that can't succeed on a later attempt,
	// such as a rejected request.
	Classify bool `json:"classify" toml:"classify"`
}

// Duration is a time.Duration that reads from a config file
// as a string ("3s", "500ms") or a number of seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds, got %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	s := string(b)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Defaults.
const (
	DefaultListen    = ":3002"
	DefaultMaxUpload = 100
)

// Default is the configuration used when there is no config file.
func Default() *Config {
	c := new(Config)
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if len(c.Store) == 0 {
		c.Store = map[string]interface{}{"type": "walrus"}
	}
	if c.Ledger.Type == "" {
		c.Ledger.Type = "file"
	}
	if c.Ledger.Type == "file" && c.Ledger.Path == "" {
		c.Ledger.Path = ledger.DefaultPath
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = retry.DefaultPolicy.MaxAttempts
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = Duration(retry.DefaultPolicy.Delay)
	}
	if c.Epochs == 0 {
		c.Epochs = bsv.DefaultEpochs
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxUpload == 0 {
		c.MaxUpload = DefaultMaxUpload
	}
	if c.KeyEnv == "" {
		c.KeyEnv = signer.DefaultEnv
	}
}

// Load reads the config file at path.
// A missing file is not an error if allowMissing is true;
// the result is then Default().
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && allowMissing {
		log.WithField("path", path).Debug("no config file, using defaults")
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	var c *Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		c, err = ParseTOML(data)
	} else {
		c, err = ParseJSON(data)
	}
	return c, errors.Wrapf(err, "parsing config file %s", path)
}

// ParseJSON parses a JSON config.
// Numbers in the store section are kept as json.Number.
func ParseJSON(data []byte) (*Config, error) {
	c := new(Config)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, err
	}
	c.setDefaults()
	return c, c.validate()
}

// ParseTOML parses a TOML config.
func ParseTOML(data []byte) (*Config, error) {
	c := new(Config)
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			// Store parameters are open-ended.
			if len(k) > 0 && k[0] == "store" {
				continue
			}
			keys = append(keys, k.String())
		}
		if len(keys) > 0 {
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}
	c.setDefaults()
	return c, c.validate()
}

func (c *Config) validate() error {
	if _, ok := c.Store["type"].(string); !ok {
		return errors.New(`store section missing "type"`)
	}
	switch c.Ledger.Type {
	case "file":
	case "sqlite3", "postgres":
		if c.Ledger.Conn == "" {
			return fmt.Errorf("%s ledger needs a conn string", c.Ledger.Type)
		}
	default:
		return fmt.Errorf("unknown ledger type %q", c.Ledger.Type)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", c.Retry.Delay)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("epochs must be at least 1, got %d", c.Epochs)
	}
	if c.Cache < 0 {
		return fmt.Errorf("cache size must not be negative, got %d", c.Cache)
	}
	if _, err := c.Format(); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Format is the frame layout named by Framing.
func (c *Config) Format() (frame.Format, error) {
	return frame.ParseFormat(c.Framing)
}

// RetryPolicy is the retry policy described by Retry.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Policy{
		MaxAttempts: c.Retry.Attempts,
		Delay:       time.Duration(c.Retry.Delay),
	}
	if c.Retry.Classify {
		p.Retryable = walrus.Retryable
	}
	return p
}

// ConfigureLogging sets the logrus level from LogLevel.
func (c *Config) ConfigureLogging() error {
	if c.LogLevel == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

// NewStore builds the configured store,
// wrapped in a read cache if Cache is set.
// The store types named in the config must have been registered,
// usually by importing their packages.
func (c *Config) NewStore(ctx context.Context) (bsv.Store, error) {
	s, err := store.FromConfig(ctx, c.Store)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %v store", c.Store["type"])
	}
	if c.Cache > 0 {
		return lru.New(s, c.Cache)
	}
	return s, nil
}

// NewSigner reads the private key from the environment variable named by KeyEnv.
func (c *Config) NewSigner() (*signer.Signer, error) {
	return signer.Getenv(c.KeyEnv)
}

// NewClient builds a client for the configured store and write options.
// The signer may be nil.
func (c *Config) NewClient(ctx context.Context, sg bsv.Signer) (*client.Client, error) {
	s, err := c.NewStore(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.Format()
	if err != nil {
		return nil, err
	}
	cl := client.New(s, sg)
	cl.Retry = c.RetryPolicy()
	cl.Format = f
	cl.Epochs = c.Epochs
	cl.Deletable = c.Deletable
	return cl, nil
}

// NewLedger opens the configured ledger.
// The returned function releases its resources.
func (c *Config) NewLedger(ctx context.Context) (*ledger.Ledger, func() error, error) {
	var (
		b      ledger.Backend
		closer = func() error { return nil }
	)

	switch c.Ledger.Type {
	case "file":
		b = ledger.NewFileBackend(c.Ledger.Path)

	case "sqlite3", "postgres":
		db, err := sql.Open(c.Ledger.Type, c.Ledger.Conn)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening %s ledger", c.Ledger.Type)
		}
		sb, err := ledger.NewSQLBackend(ctx, db, c.Ledger.Type)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		b, closer = sb, db.Close

	default:
		return nil, nil, fmt.Errorf("unknown ledger type %q", c.Ledger.Type)
	}

	l := ledger.New(b)
	l.Strict = c.Ledger.Strict
	return l, closer, nil
}
