// Package configuration loads the application settings from .env-style files
// and the process environment. Variables use the IMGFS_ prefix, and values
// already present in the environment take precedence over the files.
package configuration

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/desertwitch/imgfs/internal/validation"
	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the prefix of all configuration environment variables.
const Prefix = "IMGFS"

// ErrInvalidMaxSize occurs when the maximum image size cannot be parsed.
var ErrInvalidMaxSize = errors.New("invalid maximum image size")

type genericConfigProvider interface {
	Read(filenames ...string) (envMap map[string]string, err error)
}

type envProvider interface {
	LookupEnv(key string) (string, bool)
	Setenv(key, value string) error
}

// Config is the principal structure holding the application configuration.
type Config struct {
	ImageDir      string `envconfig:"IMAGE_DIR"       default:"./images"`
	MaxImageSize  string `envconfig:"MAX_IMAGE_SIZE"  default:"1GiB"`
	BlockSize     int    `envconfig:"BLOCK_SIZE"      default:"4096"`
	BytesPerInode int    `envconfig:"BYTES_PER_INODE" default:"16384"`
	SyncWrites    bool   `envconfig:"SYNC_WRITES"     default:"true"`
	ListenAddr    string `envconfig:"LISTEN_ADDR"     default:"127.0.0.1:8080"`
	LogLevel      string `envconfig:"LOG_LEVEL"       default:"info"`

	// MaxImageBytes is MaxImageSize in bytes.
	MaxImageBytes uint64 `ignored:"true"`

	// Level is the parsed LogLevel.
	Level slog.Level `ignored:"true"`
}

// Loader reads the configuration through its providers.
type Loader struct {
	files genericConfigProvider
	env   envProvider
}

// NewLoader returns a pointer to a new [Loader].
func NewLoader(files genericConfigProvider, env envProvider) *Loader {
	return &Loader{
		files: files,
		env:   env,
	}
}

// Load merges the given configuration files into the environment without
// overriding existing variables, then decodes and validates the result.
func (l *Loader) Load(filenames ...string) (*Config, error) {
	if len(filenames) > 0 {
		envMap, err := l.files.Read(filenames...)
		if err != nil {
			return nil, fmt.Errorf("(config-load) %w", err)
		}

		for key, value := range envMap {
			if _, exists := l.env.LookupEnv(key); exists {
				continue
			}

			if err := l.env.Setenv(key, value); err != nil {
				return nil, fmt.Errorf("(config-load) %w", err)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("(config-load) %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, fmt.Errorf("(config-load) %w", err)
	}

	return &cfg, nil
}

func (c *Config) resolve() error {
	maxBytes, err := humanize.ParseBytes(c.MaxImageSize)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMaxSize, c.MaxImageSize)
	}
	c.MaxImageBytes = maxBytes

	level, err := validation.LogLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.Level = level

	if err := validation.ImageDir(c.ImageDir); err != nil {
		return err
	}

	if err := validation.BlockSize(c.BlockSize); err != nil {
		return err
	}

	if err := validation.BytesPerInode(c.BytesPerInode); err != nil {
		return err
	}

	return nil
}

// OSEnv is an implementation wrapping the process environment.
type OSEnv struct{}

// LookupEnv wraps around [os.LookupEnv].
func (*OSEnv) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Setenv wraps around [os.Setenv].
func (*OSEnv) Setenv(key, value string) error {
	return os.Setenv(key, value)
}
