package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	DefaultListen           = ":8000"
	DefaultMaxDepthOverhead = 30
	DefaultGCInterval       = 10 * time.Minute
)

type Config struct {
	DataPath      string `yaml:"dataPath"`
	MinimumFreeGB uint   `yaml:"minimumFreeGB"`
	// RootID is the prefix tree root. When empty and CreateRoot is set a new
	// root is created on start.
	RootID     string `yaml:"rootID"`
	CreateRoot bool   `yaml:"createRoot"`

	Listen           string   `yaml:"listen"`
	APIToken         string   `yaml:"apiToken"`
	CORSOrigins      []string `yaml:"corsOrigins"`
	MaxDepthOverhead int      `yaml:"maxDepthOverhead"`

	StrictSiblings bool          `yaml:"strictSiblings"`
	GCInterval     time.Duration `yaml:"gcInterval"`
	LogLevel       string        `yaml:"logLevel"`
}

// Load starts from Defaults, reads the YAML file at path over it and applies
// PATHINDEX_* environment overrides. Keys that are set keep their value even
// when it is zero. A missing file is fine; the result is not validated.
func Load(path string) (Config, error) {
	config := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("error parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("error reading %s: %w", path, err)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Defaults returns the configuration used for keys that are not set.
// A zero GCInterval disables the value log GC.
func Defaults() Config {
	return Config{
		Listen:           DefaultListen,
		MaxDepthOverhead: DefaultMaxDepthOverhead,
		CORSOrigins:      []string{"*"},
		GCInterval:       DefaultGCInterval,
		LogLevel:         "info",
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PATHINDEX_DATA_PATH"); ok {
		c.DataPath = v
	}
	if v, ok := lookup("PATHINDEX_MIN_FREE_GB"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid PATHINDEX_MIN_FREE_GB: %w", err)
		}
		c.MinimumFreeGB = uint(n)
	}
	if v, ok := lookup("PATHINDEX_ROOT_ID"); ok {
		c.RootID = v
	}
	if v, ok := lookup("PATHINDEX_CREATE_ROOT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PATHINDEX_CREATE_ROOT: %w", err)
		}
		c.CreateRoot = b
	}
	if v, ok := lookup("PATHINDEX_LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := lookup("PATHINDEX_API_TOKEN"); ok {
		c.APIToken = v
	}
	if v, ok := lookup("PATHINDEX_CORS_ORIGINS"); ok {
		c.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORSOrigins = append(c.CORSOrigins, origin)
			}
		}
	}
	if v, ok := lookup("PATHINDEX_MAX_DEPTH_OVERHEAD"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PATHINDEX_MAX_DEPTH_OVERHEAD: %w", err)
		}
		c.MaxDepthOverhead = n
	}
	if v, ok := lookup("PATHINDEX_GC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PATHINDEX_GC_INTERVAL: %w", err)
		}
		c.GCInterval = d
	}
	if v, ok := lookup("PATHINDEX_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("dataPath is required")
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.APIToken == "" {
		return errors.New("apiToken is required")
	}
	if c.RootID == "" && !c.CreateRoot {
		return errors.New("rootID is required unless createRoot is set")
	}
	if c.MaxDepthOverhead < 0 {
		return fmt.Errorf("maxDepthOverhead must not be negative: %d", c.MaxDepthOverhead)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid logLevel: %w", err)
	}
	return nil
}

// Logger builds the process logger for the configured level.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
