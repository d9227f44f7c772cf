package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SESSIONSYNC_STORE_KIND.
const EnvPrefix = "SESSIONSYNC_"

// Store kinds.
const (
	StoreMemory  = "memory"
	StoreFile    = "file"
	StoreMongo   = "mongo"
	StoreRedis   = "redis"
	StoreSharded = "sharded"
)

// Config is the process configuration.
type Config struct {
	Namespace domain.Namespace `mapstructure:"namespace"`
	Batch     BatchConfig      `mapstructure:"batch"`
	Store     StoreConfig      `mapstructure:"store"`
	Session   SessionConfig    `mapstructure:"session"`
	Flush     FlushConfig      `mapstructure:"flush"`
	Log       LogConfig        `mapstructure:"log"`
	HTTP      HTTPConfig       `mapstructure:"http"`
}

// BatchConfig holds the command caps; zero selects the built-in defaults.
type BatchConfig struct {
	MaxItems int `mapstructure:"max_items"`
	MaxBytes int `mapstructure:"max_bytes"`
}

// StoreConfig selects and configures the store binding.
type StoreConfig struct {
	Kind   string        `mapstructure:"kind"`
	Mongo  MongoConfig   `mapstructure:"mongo"`
	Redis  RedisConfig   `mapstructure:"redis"`
	File   FileConfig    `mapstructure:"file"`
	Shards []StoreConfig `mapstructure:"shards"`
}

type MongoConfig struct {
	URI string `mapstructure:"uri"`
}

type RedisConfig struct {
	Addrs    []string      `mapstructure:"addrs"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

type SessionConfig struct {
	// Timeout is how long a record outlives its lastUse.
	Timeout time.Duration `mapstructure:"timeout"`
}

type FlushConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// envKeys are the settings that can be overridden from the environment.
var envKeys = []string{
	"namespace.db",
	"namespace.collection",
	"batch.max_items",
	"batch.max_bytes",
	"store.kind",
	"store.mongo.uri",
	"store.redis.addrs",
	"store.redis.password",
	"store.redis.db",
	"store.redis.prefix",
	"store.redis.ttl",
	"store.file.dir",
	"session.timeout",
	"flush.interval",
	"flush.max_elapsed",
	"log.level",
	"log.format",
	"http.addr",
}

func defaults() map[string]any {
	return map[string]any{
		"namespace": map[string]any{
			"db":         domain.DefaultDB,
			"collection": domain.DefaultCollection,
		},
		"store": map[string]any{
			"kind": StoreMemory,
			"file": map[string]any{"dir": ".sessionsync/data"},
			"redis": map[string]any{
				"addrs":  []any{"localhost:6379"},
				"prefix": "sessionsync:",
			},
		},
		"session": map[string]any{"timeout": "30m"},
		"flush": map[string]any{
			"interval":    "5m",
			"max_elapsed": "30s",
		},
		"log":  map[string]any{"level": "info", "format": "text"},
		"http": map[string]any{"addr": ":8080"},
	}
}

// Load reads the YAML file at path (optional) over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	raw := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		var file map[string]any
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		merge(raw, file)
	}

	for _, key := range envKeys {
		name := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if v, ok := lookupEnv(name); ok {
			set(raw, strings.Split(key, "."), v)
		}
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if err := c.Namespace.Validate(); err != nil {
		return err
	}
	if c.Batch.MaxItems < 0 || c.Batch.MaxBytes < 0 {
		return fmt.Errorf("invalid batch limits: max_items and max_bytes must not be negative")
	}
	if c.Flush.Interval <= 0 {
		return fmt.Errorf("invalid flush interval %s", c.Flush.Interval)
	}
	return c.Store.validate(true)
}

func (s StoreConfig) validate(top bool) error {
	switch s.Kind {
	case StoreMemory, StoreFile:
	case StoreMongo:
		if s.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required for the mongo store")
		}
	case StoreRedis:
		if len(s.Redis.Addrs) == 0 {
			return fmt.Errorf("store.redis.addrs is required for the redis store")
		}
	case StoreSharded:
		if !top {
			return fmt.Errorf("sharded stores cannot be nested")
		}
		if len(s.Shards) == 0 {
			return fmt.Errorf("store.shards is required for the sharded store")
		}
		for i, shard := range s.Shards {
			if err := shard.validate(false); err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
		}
	default:
		kinds := []string{StoreMemory, StoreFile, StoreMongo, StoreRedis, StoreSharded}
		return fmt.Errorf("unknown store kind %q (want one of %s)", s.Kind, strings.Join(kinds, ", "))
	}
	return nil
}

// merge copies src into dst, descending into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				merge(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
}

func set(m map[string]any, path []string, v any) {
	for _, k := range path[:len(path)-1] {
		sub, ok := m[k].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			m[k] = sub
		}
		m = sub
	}
	m[path[len(path)-1]] = v
}
