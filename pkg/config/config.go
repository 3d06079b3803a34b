package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/tswatch/pkg/logging"
)

// DefaultFile is the optional config file read from the working directory.
const DefaultFile = "tswatch.toml"

// EnvPrefix prefixes environment overrides, e.g. TSWATCH_DEBOUNCE=500ms.
const EnvPrefix = "TSWATCH_"

// Config holds all configuration for the application
type Config struct {
	// Project is a tsconfig.json path or a directory containing one.
	Project string `koanf:"project"`
	// Files are root files compiled without a config file.
	Files         []string      `koanf:"files"`
	Debounce      time.Duration `koanf:"debounce"`
	Verbosity     string        `koanf:"verbosity"`
	VerboseCnt    int           `koanf:"verbose"`
	JSONLogs      bool          `koanf:"json-logs"`
	LibDir        string        `koanf:"lib-dir"`
	Serve         bool          `koanf:"serve"`
	Port          int           `koanf:"port"`
	CaseSensitive string        `koanf:"case-sensitive"`
	NewLine       string        `koanf:"new-line"`
	Once          bool          `koanf:"once"`
	Color         bool          `koanf:"color"`
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(f, DefaultFile)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(f *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"project":        "",
		"files":          []string{},
		"debounce":       "250ms",
		"verbosity":      "",
		"verbose":        0,
		"json-logs":      false,
		"lib-dir":        "",
		"serve":          false,
		"port":           8080,
		"case-sensitive": "auto",
		"new-line":       "",
		"once":           false,
		"color":          true,
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional)
	// We ignore errors here as the file might not exist
	_ = k.Load(file.Provider(path), toml.Parser())

	// 3. Environment Variables
	// TSWATCH_LIB_DIR maps to lib-dir
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the rest of the program cannot interpret.
func (c *Config) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %s", c.Debounce)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if _, err := c.CaseSensitivity(); err != nil {
		return err
	}
	if _, err := c.NewLineString(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// CaseSensitivity returns nil when the platform default applies.
func (c *Config) CaseSensitivity() (*bool, error) {
	switch strings.ToLower(c.CaseSensitive) {
	case "", "auto":
		return nil, nil
	case "true", "yes":
		v := true
		return &v, nil
	case "false", "no":
		v := false
		return &v, nil
	}
	return nil, fmt.Errorf("invalid case-sensitive value %q (want auto, true or false)", c.CaseSensitive)
}

// NewLineString maps the new-line setting to its character sequence; ""
// leaves the choice to the host.
func (c *Config) NewLineString() (string, error) {
	switch strings.ToLower(c.NewLine) {
	case "":
		return "", nil
	case "lf":
		return "\n", nil
	case "crlf":
		return "\r\n", nil
	}
	return "", fmt.Errorf("invalid new-line value %q (want lf or crlf)", c.NewLine)
}

// LogLevel resolves verbosity. An explicit level name wins over the
// -v count.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Verbosity) {
	case "trace":
		return logging.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "":
	default:
		return 0, fmt.Errorf("invalid verbosity %q", c.Verbosity)
	}
	switch {
	case c.VerboseCnt >= 2:
		return logging.LevelTrace, nil
	case c.VerboseCnt == 1:
		return slog.LevelDebug, nil
	}
	return slog.LevelWarn, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
