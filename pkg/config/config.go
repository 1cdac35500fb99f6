// Package config loads the proxy configuration from embedded defaults, an
// optional YAML or JSON file and the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Sternrassler/doctor-search-proxy/pkg/logging"
	"github.com/Sternrassler/doctor-search-proxy/pkg/ratelimit"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvPrefix prefixes structured environment keys. Nested keys are separated
// by a double underscore: DOCSEARCH_INDEX__BACKEND=redis.
const EnvPrefix = "DOCSEARCH_"

// DefaultElasticPort is the Elasticsearch HTTP port.
const DefaultElasticPort = 9200

// Index backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendRedis         = "redis"
	BackendMemory        = "memory"
)

// ErrMissingAPIKey is returned by Validate when no provider credential is set.
var ErrMissingAPIKey = errors.New("upstream api key is required (set API_KEY)")

// legacyEnv maps the flat environment names of earlier deployments.
var legacyEnv = map[string]string{
	"API_KEY":             "upstream.api_key",
	"APP_PORT":            "server.port",
	"ELASTICSEARCH_INDEX": "index.name",
	"ELASTICSEARCH_HOST":  "index.elasticsearch.host",
	"ELASTICSEARCH_PORT":  "index.elasticsearch.port",
}

// Config is the complete process configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Index    IndexConfig    `koanf:"index"`
	Fetch    FetchConfig    `koanf:"fetch"`
	Log      logging.Config `koanf:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// UpstreamConfig configures the provider client.
type UpstreamConfig struct {
	URL       string        `koanf:"url"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`
}

// IndexConfig selects and configures the index backend.
type IndexConfig struct {
	Backend       string              `koanf:"backend"`
	Name          string              `koanf:"name"`
	Size          int                 `koanf:"size"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Redis         RedisConfig         `koanf:"redis"`
}

// ElasticsearchConfig locates the cluster. Host and Port take precedence over
// Addresses when Host is set or Port differs from DefaultElasticPort; an
// empty Host then means localhost.
type ElasticsearchConfig struct {
	Addresses []string `koanf:"addresses"`
	Host      string   `koanf:"host"`
	Port      int      `koanf:"port"`
}

// RedisConfig locates the Redis server of the redis backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// FetchConfig configures fetch sessions.
type FetchConfig struct {
	SessionTimeout time.Duration `koanf:"session_timeout"`
	Pacing         PacingConfig  `koanf:"pacing"`
}

// PacingConfig sets the delays between provider requests.
type PacingConfig struct {
	Threshold  int           `koanf:"threshold"`
	SmallDelay time.Duration `koanf:"small_delay"`
	LargeDelay time.Duration `koanf:"large_delay"`
}

// Policy converts the pacing section to a ratelimit policy.
func (p PacingConfig) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Threshold:  p.Threshold,
		SmallDelay: p.SmallDelay,
		LargeDelay: p.LargeDelay,
	}
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// ElasticAddresses returns the cluster URLs to connect to.
func (e ElasticsearchConfig) ElasticAddresses() []string {
	if e.Host == "" && (e.Port <= 0 || e.Port == DefaultElasticPort) {
		return e.Addresses
	}
	host := e.Host
	if host == "" {
		host = "localhost"
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if e.Port > 0 {
		host = host + ":" + strconv.Itoa(e.Port)
	}
	return []string{host}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable to a config key, or "" to skip it.
func envKey(name, value string) (string, any) {
	if key, ok := legacyEnv[name]; ok {
		if value == "" {
			return "", nil
		}
		return key, value
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return "", nil
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
}

// Validate checks that the configuration can start the proxy.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("upstream url is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", c.Server.Port))
	}

	switch c.Index.Backend {
	case BackendElasticsearch:
		if len(c.Index.Elasticsearch.ElasticAddresses()) == 0 {
			errs = append(errs, errors.New("elasticsearch backend needs at least one address"))
		}
	case BackendRedis:
		if c.Index.Redis.Addr == "" {
			errs = append(errs, errors.New("redis backend needs an address"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown index backend %q", c.Index.Backend))
	}
	if c.Index.Name == "" {
		errs = append(errs, errors.New("index name is required"))
	}

	p := c.Fetch.Pacing
	if p.Threshold <= 0 || p.SmallDelay <= 0 || p.LargeDelay <= 0 {
		errs = append(errs, errors.New("pacing threshold and delays must be positive"))
	}
	if c.Fetch.SessionTimeout < 0 {
		errs = append(errs, errors.New("fetch session timeout must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
