// Package config provides layered configuration loading for the oneshot service.
// It merges Defaults -> optional YAML file -> Environment Variables, decodes
// with mapstructure hooks and validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto configuration keys: ONESHOT_DATA_DIR -> data_dir.
const EnvPrefix = "ONESHOT_"

// Storage backends selectable with the backend key.
const (
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
	BackendBolt       = "bolt"
	BackendBadger     = "badger"
)

// ByteSize is a byte count that decodes from human strings such as "128KiB".
type ByteSize int64

// Config holds the merged runtime configuration for the oneshot service.
type Config struct {
	Addr             string        `koanf:"addr" validate:"required,ip_port"`
	DataDir          string        `koanf:"data_dir" validate:"required,safe_path"`
	Backend          string        `koanf:"backend" validate:"oneof=filesystem sqlite bolt badger"`
	MaxBytes         ByteSize      `koanf:"max_bytes" validate:"gt=0"`
	LogLevel         string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat        string        `koanf:"log_format" validate:"oneof=text json"`
	AllowRegister    bool          `koanf:"allow_register"`
	MetricsToken     string        `koanf:"metrics_token"`
	MetricsFlush     time.Duration `koanf:"metrics_flush" validate:"gt=0"`
	JanitorInterval  time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	StaleAfter       time.Duration `koanf:"stale_after" validate:"gt=0"`
	CollisionRetries int           `koanf:"collision_retries" validate:"gte=0,lte=10"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// DefaultAppConfig holds secure, minimal defaults.
var DefaultAppConfig = Config{
	Addr:             ":8080",
	DataDir:          "./data",
	Backend:          BackendFilesystem,
	MaxBytes:         16 << 20, // 16 MiB
	LogLevel:         "info",
	LogFormat:        "text",
	MetricsFlush:     10 * time.Second,
	JanitorInterval:  5 * time.Minute,
	StaleAfter:       time.Hour,
	CollisionRetries: 3,
	OpenTimeout:      30 * time.Second,
}

// loaders are package variables so tests can inject failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	fileLoader = func(k *koanf.Koanf, path string) error {
		return k.Load(file.Provider(path), yaml.Parser())
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", validSafePath)
	}
)

// Load reads defaults and the environment.
func Load() (*Config, error) { return LoadFile("") }

// LoadFile reads defaults, then the YAML file at path when path is not
// empty, then the environment.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, describe(err)
	}
	return &cfg, nil
}

// describe turns validator output into one message per field using the
// koanf key names.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	t := reflect.TypeOf(Config{})
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if f, ok := t.FieldByName(fe.StructField()); ok {
			name = f.Tag.Get("koanf")
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", name, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", name, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SQLiteDSN returns the DSN of the shared database inside DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, "oneshot.db") +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// StringToByteSize is a DecodeHookFunc that converts size strings to ByteSize.
func StringToByteSize() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		n, err := ParseSize(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}

// validIPPort accepts "host:port" where host is empty or a literal IP and
// port is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// validSafePath rejects the filesystem root, the working directory itself
// and any path with a parent reference.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or IEC/human suffixes: KiB/MiB/GiB (case-insensitive) or K/M/G.
// Examples: "131072" => 131072, "128KiB" => 131072, "1MiB" => 1048576, "2G" => 2147483648.
func ParseSize(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	upper := strings.ToUpper(s)
	if n, ok, err := parseSizeWithSuffix(upper, orig); ok {
		return n, err
	}
	n, err := parsePositiveInt(upper)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", orig, err)
	}
	return n, nil
}

// parsePositiveInt parses a base-10 int64 and rejects negatives.
func parsePositiveInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative not allowed")
	}
	return n, nil
}

// parseSizeWithSuffix returns (value, true, nil) on success, (0, false, nil)
// if no suffix matched, or (0, true, error) if a suffix matched but the
// number did not parse.
func parseSizeWithSuffix(upper, orig string) (int64, bool, error) {
	units := []struct {
		suffix string
		mult   int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	}
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
			if numPart == "" {
				return 0, true, fmt.Errorf("parse size %q: missing number", orig)
			}
			n, err := parsePositiveInt(numPart)
			if err != nil {
				return 0, true, fmt.Errorf("parse size %q: %w", orig, err)
			}
			if n > math.MaxInt64/u.mult {
				return 0, true, fmt.Errorf("parse size %q: value overflows int64", orig)
			}
			return n * u.mult, true, nil
		}
	}
	return 0, false, nil
}
