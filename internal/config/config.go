package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

const (
	EnvConfigPath        = "LECTERN_CONFIG"
	EnvStorageDriver     = "LECTERN_STORAGE_DRIVER"
	EnvLogLevel          = "LECTERN_LOG_LEVEL"
	EnvS3AccessKeyID     = "LECTERN_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "LECTERN_S3_SECRET_ACCESS_KEY"

	DefaultConfigPath = "config.yaml"
)

const (
	DriverSQLite = "sqlite"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Autosave AutosaveConfig `yaml:"autosave"`
	Storage  StorageConfig  `yaml:"storage"`
	Preview  PreviewConfig  `yaml:"preview"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port string `yaml:"port" default:"12600"`
}

type AutosaveConfig struct {
	Debounce    time.Duration `yaml:"debounce" default:"600ms"`
	SaveTimeout time.Duration `yaml:"save_timeout" default:"30s"`
}

type StorageConfig struct {
	Driver      string       `yaml:"driver" default:"sqlite"`
	Compression string       `yaml:"compression" default:"zstd"`
	SQLite      SQLiteConfig `yaml:"sqlite"`
	S3          S3Config     `yaml:"s3"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"lectern.db"`
}

// Credentials are only read from the environment.
type S3Config struct {
	Bucket          string `yaml:"bucket" default:""`
	Endpoint        string `yaml:"endpoint" default:""`
	Region          string `yaml:"region" default:"us-east-1"`
	Prefix          string `yaml:"prefix" default:"content"`
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

type PreviewConfig struct {
	Enabled     bool   `yaml:"enabled" default:"true"`
	Renderer    string `yaml:"renderer" default:"mmark"`
	SyntaxTheme string `yaml:"syntax_theme" default:"gruvbox"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
}

var AppConfig *Config

// Path returns the config file location, honoring LECTERN_CONFIG.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadEnv reads a .env file into the process environment if one exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		configLogger.Debug().Err(err).Msg("No .env file loaded")
	}
}

func LoadConfig(path string) error {
	config := &Config{}

	// Apply default values first
	applyDefaults(config)

	data, err := os.ReadFile(path)
	if err != nil {
		// If file doesn't exist, just use defaults
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return errors.Wrap(err, "failed to parse config file")
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return err
	}

	AppConfig = config
	return nil
}

func applyEnv(config *Config) {
	if v := os.Getenv(EnvStorageDriver); v != "" {
		config.Storage.Driver = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		config.Logging.Level = v
	}
	config.Storage.S3.AccessKeyID = os.Getenv(EnvS3AccessKeyID)
	config.Storage.S3.SecretAccessKey = os.Getenv(EnvS3SecretAccessKey)
}

func (c *Config) Validate() error {
	if c.Autosave.Debounce <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "autosave.debounce must be positive, got %s", c.Autosave.Debounce)
	}
	if c.Autosave.SaveTimeout < 0 {
		return errors.Wrapf(ErrInvalidConfig, "autosave.save_timeout must not be negative, got %s", c.Autosave.SaveTimeout)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			return errors.Wrap(ErrInvalidConfig, "storage.s3.bucket is required for the s3 driver")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Storage.Compression {
	case "zstd", "gzip", "none":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown compression %q", c.Storage.Compression)
	}

	switch c.Preview.Renderer {
	case "mmark", "classic":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown preview renderer %q", c.Preview.Renderer)
	}
	return nil
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyDefaults(config interface{}) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		// Recursively apply defaults to nested structs
		if field.Kind() == reflect.Struct {
			applyDefaults(field.Addr().Interface())
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}

		if field.Type() == durationType {
			if d, err := time.ParseDuration(defaultValue); err == nil {
				field.SetInt(int64(d))
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(defaultValue)
		case reflect.Bool:
			if val, err := strconv.ParseBool(defaultValue); err == nil {
				field.SetBool(val)
			}
		case reflect.Int:
			if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
				field.SetInt(val)
			}
		case reflect.Float64:
			if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
				field.SetFloat(val)
			}
		case reflect.Slice:
			if field.Len() == 0 && field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(defaultValue, ",")
				slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
				for j, part := range parts {
					slice.Index(j).SetString(strings.TrimSpace(part))
				}
				field.Set(slice)
			}
		default:
			configLogger.Warn().
				Str("field_name", fieldType.Name).
				Str("field_type", field.Kind().String()).
				Msg("Unsupported field type for default value")
		}
	}
}
