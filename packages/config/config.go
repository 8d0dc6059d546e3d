// Package config holds the TOML configuration of the calculation engine and
// its command-line front end.
package config

import (
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// GRIDCALC_ENGINE_NUMBER_FORMAT or GRIDCALC_LOG_LEVEL
const EnvPrefix = "GRIDCALC"

const (
	DefaultFormulaPrefix  = "="
	DefaultParseCacheSize = 1024
	DefaultMaxRangeCells  = 65536
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultLogFile        = "STDERR"
)

// Config is the top-level configuration
type Config struct {
	Engine Engine `toml:"engine"`
	Log    Log    `toml:"log"`
}

// Engine configures the calculation engine
type Engine struct {
	// FormulaPrefix marks cell input as a formula
	FormulaPrefix string `toml:"formula-prefix"`
	// NumberFormat is an optional display format code like "0.00"
	NumberFormat string `toml:"number-format"`
	// ParseCacheSize bounds the parsed-formula cache, 0 disables it
	ParseCacheSize int `toml:"parse-cache-size"`
	// MaxRangeCells bounds the number of cells a single range may cover
	MaxRangeCells int `toml:"max-range-cells"`
}

// Log configures logging
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// NewConfig returns a config with default settings
func NewConfig() Config {
	return Config{
		Engine: NewEngineConfig(),
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			File:   DefaultLogFile,
		},
	}
}

// NewEngineConfig returns the default engine settings
func NewEngineConfig() Engine {
	return Engine{
		FormulaPrefix:  DefaultFormulaPrefix,
		ParseCacheSize: DefaultParseCacheSize,
		MaxRangeCells:  DefaultMaxRangeCells,
	}
}

// Load parses the config at path on top of the defaults.
// Returns the default configuration if path is blank.
func Load(path string) (Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, errors.Wrapf(err, "decode config %s", path)
	}
	return c, nil
}

// Decode parses TOML from r on top of the defaults
func Decode(r io.Reader) (Config, error) {
	c := NewConfig()
	if _, err := toml.DecodeReader(r, &c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return c, nil
}

// Write encodes the config as TOML
func (c Config) Write(w io.Writer) error {
	return errors.Wrap(toml.NewEncoder(w).Encode(c), "encode config")
}

// Validate returns an error if the config is invalid.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return errors.Wrap(err, "engine")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.Wrap(err, "log")
	}
	return nil
}

// Validate returns an error if the engine settings are invalid.
func (e Engine) Validate() error {
	if utf8.RuneCountInString(e.FormulaPrefix) != 1 {
		return errors.Errorf("formula-prefix must be a single character, got %q", e.FormulaPrefix)
	}
	if strings.TrimSpace(e.FormulaPrefix) == "" {
		return errors.New("formula-prefix must not be whitespace")
	}
	if e.ParseCacheSize < 0 {
		return errors.Errorf("parse-cache-size must not be negative, got %d", e.ParseCacheSize)
	}
	if e.MaxRangeCells <= 0 {
		return errors.Errorf("max-range-cells must be positive, got %d", e.MaxRangeCells)
	}
	return nil
}

// Validate returns an error if the log settings are invalid.
func (l Log) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown level %q", l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return errors.Errorf("unknown format %q", l.Format)
	}
	if l.File == "" {
		return errors.New("file must be STDERR, STDOUT or a path")
	}
	return nil
}

// ApplyEnvOverrides sets fields from GRIDCALC_<SECTION>_<KEY> variables,
// where the key is the field's toml name upper-cased with dashes turned into
// underscores.
func (c *Config) ApplyEnvOverrides() error {
	return applyEnvOverrides(EnvPrefix, reflect.ValueOf(c).Elem())
}

func applyEnvOverrides(prefix string, s reflect.Value) error {
	typ := s.Type()
	for i := 0; i < s.NumField(); i++ {
		field := s.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := typ.Field(i).Tag.Get("toml")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(strings.ReplaceAll(tag, "-", "_"))

		if field.Kind() == reflect.Struct {
			if err := applyEnvOverrides(key, field); err != nil {
				return err
			}
			continue
		}

		value := os.Getenv(key)
		if value == "" {
			continue
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "failed to apply %v", key)
			}
			field.SetInt(n)
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errors.Wrapf(err, "failed to apply %v", key)
			}
			field.SetBool(b)
		}
	}
	return nil
}
