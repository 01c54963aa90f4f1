// Package config loads o324 settings from a TOML file, the environment
// and a .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"golang.org/x/mod/semver"
)

const (
	// Version is the schema version written by this build.
	Version = "v1"

	envPrefix  = "O324"
	appDir     = "o324"
	configName = "config"
	configType = "toml"
)

var (
	// ErrInvalid is returned for configurations that fail validation.
	ErrInvalid = errors.New("invalid configuration")

	// ErrUnsupportedVersion is returned for files written by a newer
	// major version.
	ErrUnsupportedVersion = errors.New("unsupported configuration version")
)

// Config is the full o324 configuration.
type Config struct {
	Version      string           `mapstructure:"version" validate:"required"`
	Repository   RepositoryConfig `mapstructure:"repository"`
	Storage      StorageConfig    `mapstructure:"storage"`
	Daemon       DaemonConfig     `mapstructure:"daemon"`
	ComputerName string           `mapstructure:"computer_name"`
}

// RepositoryConfig locates the task repository.
type RepositoryConfig struct {
	Path   string `mapstructure:"path" validate:"required"`
	Remote string `mapstructure:"remote"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=git memory"`
	Format  string `mapstructure:"format" validate:"required,oneof=json yaml toml"`
}

// DaemonConfig configures `o324 daemon`.
type DaemonConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required,hostname_port"`
	SyncInterval time.Duration `mapstructure:"sync_interval" validate:"gte=0"`
	LogFile      string        `mapstructure:"log_file"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		Version: Version,
		Repository: RepositoryConfig{
			Path: filepath.Join(DataDir(), "store"),
		},
		Storage: StorageConfig{
			Backend: "git",
			Format:  "json",
		},
		Daemon: DaemonConfig{
			Addr: "127.0.0.1:3240",
		},
		ComputerName: host,
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/o324/config.toml.
func DefaultPath() string {
	return filepath.Join(configDir(), configName+"."+configType)
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}
	return filepath.Join(home, ".config", appDir)
}

// DataDir returns $XDG_DATA_HOME/o324.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}
	return filepath.Join(home, ".local", "share", appDir)
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("version", def.Version)
	v.SetDefault("repository.path", def.Repository.Path)
	v.SetDefault("repository.remote", def.Repository.Remote)
	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.format", def.Storage.Format)
	v.SetDefault("daemon.addr", def.Daemon.Addr)
	v.SetDefault("daemon.sync_interval", def.Daemon.SyncInterval)
	v.SetDefault("daemon.log_file", def.Daemon.LogFile)
	v.SetDefault("computer_name", def.ComputerName)
}

// Load reads the configuration. Values come, from highest priority, from
// O324_* environment variables (a .env file in the working directory is
// loaded first), the file at path (DefaultPath when empty) and the
// defaults. A missing file is not an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	// It's okay if .env doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType(configType)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		exists, _ := afero.Exists(fs, path)
		if !errors.As(err, &notFound) && exists {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the schema version.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var messages []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range verrs {
				messages = append(messages, fmt.Sprintf("field '%s' fails rule '%s'", e.Namespace(), e.Tag()))
			}
		} else {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(messages, "; "))
	}

	if !semver.IsValid(c.Version) {
		return fmt.Errorf("%w: version %q is not a semantic version", ErrInvalid, c.Version)
	}
	if semver.Compare(semver.Major(c.Version), semver.Major(Version)) > 0 {
		return fmt.Errorf("%w: %s (this build reads %s)", ErrUnsupportedVersion, c.Version, Version)
	}
	return nil
}

// file is the on-disk form. Durations are written as strings such as
// "5m0s", which viper decodes back into time.Duration.
type file struct {
	Version    string `toml:"version"`
	Repository struct {
		Path   string `toml:"path"`
		Remote string `toml:"remote"`
	} `toml:"repository"`
	Storage struct {
		Backend string `toml:"backend"`
		Format  string `toml:"format"`
	} `toml:"storage"`
	Daemon struct {
		Addr         string `toml:"addr"`
		SyncInterval string `toml:"sync_interval"`
		LogFile      string `toml:"log_file"`
	} `toml:"daemon"`
	ComputerName string `toml:"computer_name"`
}

// Encode returns cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	var f file
	f.Version = cfg.Version
	f.Repository.Path = cfg.Repository.Path
	f.Repository.Remote = cfg.Repository.Remote
	f.Storage.Backend = cfg.Storage.Backend
	f.Storage.Format = cfg.Storage.Format
	f.Daemon.Addr = cfg.Daemon.Addr
	f.Daemon.SyncInterval = cfg.Daemon.SyncInterval.String()
	f.Daemon.LogFile = cfg.Daemon.LogFile
	f.ComputerName = cfg.ComputerName

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write validates cfg and writes it to path, creating parent directories.
func Write(fs afero.Fs, path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
