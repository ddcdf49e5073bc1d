package config

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	strs "consentsync/pkg/platform/strings"
)

// Config aggregates process configuration. Environment variables use the
// prefix CONSENTSYNC and replace dots with underscores, so "backend.url" is
// read from CONSENTSYNC_BACKEND_URL.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	OTLP    OTLPConfig    `mapstructure:"otlp"`
	Debug   bool          `mapstructure:"debug"`
}

// BackendConfig locates the hosted database. Both fields are required.
type BackendConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// RedisConfig configures the shared durable tier. An empty URL means Redis is
// not configured and the file or memory tier is used instead.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type CacheConfig struct {
	// Dir holds the file-backed durable tier when Redis is not configured.
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}

type ProbeConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type OTLPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ErrMissingBackend is returned when the backend URL or access key is absent.
// It is a startup failure, never retried.
var ErrMissingBackend = errors.New("backend url and access key are required")

// DefaultProbeEndpoints are independent, well-known hosts for the general
// reachability stage.
var DefaultProbeEndpoints = []string{
	"https://www.google.com/generate_204",
	"https://cloudflare.com/cdn-cgi/trace",
	"https://www.apple.com/library/test/success.html",
}

// Default returns a Config populated with defaults only.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Cache: CacheConfig{TTL: 48 * time.Hour},
		Probe: ProbeConfig{Endpoints: append([]string(nil), DefaultProbeEndpoints...)},
		Kafka: KafkaConfig{Topic: "consentsync.audit"},
	}
}

// Load reads configuration from an optional config.yaml and the environment.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CONSENTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	// comma separated lists from the environment
	if s := v.GetString("probe.endpoints"); s != "" && !strings.HasPrefix(s, "[") {
		cfg.Probe.Endpoints = strs.SplitList(s)
	}
	if s := v.GetString("kafka.brokers"); s != "" && !strings.HasPrefix(s, "[") {
		cfg.Kafka.Brokers = strs.SplitList(s)
	}
	cfg.Probe.Endpoints = strs.DedupeAndTrim(cfg.Probe.Endpoints)
	cfg.Kafka.Brokers = strs.DedupeAndTrim(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the startup requirements.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" || strings.TrimSpace(c.Backend.Key) == "" {
		return ErrMissingBackend
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache ttl must be positive")
	}
	return nil
}

// bindEnvs registers every key of cfg so AutomaticEnv sees nested fields
// during Unmarshal.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
