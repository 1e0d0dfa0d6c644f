package config

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

const (
	RedirectFollow = "follow"
	RedirectManual = "manual"
)

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Environment  string `mapstructure:"environment"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RouteConfig struct {
	Host   string `mapstructure:"host"`
	Target string `mapstructure:"target"`
}

type HostsConfig struct {
	Default string        `mapstructure:"default"`
	Routes  []RouteConfig `mapstructure:"routes"`
}

type ProbeConfig struct {
	Path               string `mapstructure:"path"`
	Timeout            string `mapstructure:"timeout"`
	Concurrency        int    `mapstructure:"concurrency"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type MemoryCacheConfig struct {
	Size int `mapstructure:"size"`
}

type RedisCacheConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Retention string `mapstructure:"retention"`
}

type CacheConfig struct {
	Driver  string            `mapstructure:"driver"`
	Timeout string            `mapstructure:"timeout"`
	Memory  MemoryCacheConfig `mapstructure:"memory"`
	Redis   RedisCacheConfig  `mapstructure:"redis"`
}

type ForwardConfig struct {
	Timeout      string `mapstructure:"timeout"`
	Redirect     string `mapstructure:"redirect"`
	ClientHeader string `mapstructure:"client_header"`
	HostHeader   string `mapstructure:"host_header"`
}

type TransportConfig struct {
	PoolSize        int    `mapstructure:"pool_size"`
	IdleConnTimeout string `mapstructure:"idle_conn_timeout"`
}

type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Hosts      HostsConfig     `mapstructure:"hosts"`
	Candidates []string        `mapstructure:"candidates"`
	Probe      ProbeConfig     `mapstructure:"probe"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Forward    ForwardConfig   `mapstructure:"forward"`
	Transport  TransportConfig `mapstructure:"transport"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("hosts.default", "default.target.com")
	v.SetDefault("probe.path", "/cdn-cgi/trace")
	v.SetDefault("probe.timeout", "8s")
	v.SetDefault("probe.concurrency", 32)
	v.SetDefault("probe.insecure_skip_verify", false)
	v.SetDefault("cache.driver", CacheDriverMemory)
	v.SetDefault("cache.timeout", "500ms")
	v.SetDefault("cache.memory.size", 10000)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "edge")
	v.SetDefault("cache.redis.retention", "24h")
	v.SetDefault("forward.timeout", "30s")
	v.SetDefault("forward.redirect", RedirectFollow)
	v.SetDefault("forward.client_header", "CF-Connecting-IP")
	v.SetDefault("forward.host_header", "X-Forwarded-Host")
	v.SetDefault("transport.pool_size", 256)
	v.SetDefault("transport.idle_conn_timeout", "90s")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// No default exists for the pool, so AutomaticEnv alone would never see it.
	_ = v.BindEnv("candidates")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// Mapping returns the host routes as a virtual host to target table.
func (h HostsConfig) Mapping() map[string]string {
	m := make(map[string]string, len(h.Routes))
	for _, r := range h.Routes {
		m[r.Host] = r.Target
	}
	return m
}

// Duration parses a duration that Validate has already accepted.
// Unparseable or empty values yield zero.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ReadTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.WriteTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.IdleTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Hosts,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HostsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HostsConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Default, validation.Required, is.Host),
					validation.Field(&hc.Routes, validation.Each(validation.By(validateRoute))),
				)
			}),
		),
		validation.Field(&c.Candidates,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateCandidate)),
		),
		validation.Field(&c.Probe,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProbeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProbeConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Path, validation.Required, validation.By(validatePath)),
					validation.Field(&pc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.Concurrency, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Cache,
			validation.Required,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CacheConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CacheConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Driver,
						validation.Required,
						validation.In(CacheDriverMemory, CacheDriverRedis),
					),
					validation.Field(&cc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&cc.Memory,
						validation.When(cc.Driver == CacheDriverMemory, validation.By(validateMemoryCache)),
					),
					validation.Field(&cc.Redis,
						validation.When(cc.Driver == CacheDriverRedis, validation.By(validateRedisCache)),
					),
				)
			}),
		),
		validation.Field(&c.Forward,
			validation.Required,
			validation.By(func(value interface{}) error {
				fc, ok := value.(ForwardConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ForwardConfig")
				}
				return validation.ValidateStruct(&fc,
					validation.Field(&fc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&fc.Redirect,
						validation.Required,
						validation.In(RedirectFollow, RedirectManual),
					),
					validation.Field(&fc.ClientHeader, validation.Required),
					validation.Field(&fc.HostHeader, validation.Required),
				)
			}),
		),
		validation.Field(&c.Transport,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TransportConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TransportConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.PoolSize, validation.Required, validation.Min(1)),
					validation.Field(&tc.IdleConnTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
	)
}

func validateMemoryCache(value interface{}) error {
	mc, ok := value.(MemoryCacheConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a MemoryCacheConfig")
	}
	return validation.ValidateStruct(&mc,
		validation.Field(&mc.Size, validation.Required, validation.Min(1)),
	)
}

func validateRedisCache(value interface{}) error {
	rc, ok := value.(RedisCacheConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RedisCacheConfig")
	}
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Address, validation.Required, validation.By(validateHostPort)),
		validation.Field(&rc.DB, validation.Min(0)),
		validation.Field(&rc.Retention, validation.By(validateRetention)),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

func validateRetention(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if s == "" || s == "0" {
		return nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	// Redis must keep entries at least as long as they can be fresh.
	if d < 30*time.Minute {
		return validation.NewError("validation_short_retention", "retention must be at least 30m")
	}

	return nil
}

func validatePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "path must start with /")
	}

	return nil
}

func validateRoute(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	if route.Host == "" || route.Target == "" {
		return validation.NewError("validation_empty_route", "route host and target cannot be empty")
	}

	if err := is.Host.Validate(route.Target); err != nil {
		return validation.NewError("validation_invalid_target", "route target must be a hostname")
	}

	return nil
}

// validateCandidate accepts an IP or hostname with an optional port.
func validateCandidate(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if addr == "" {
		return validation.NewError("validation_empty_candidate", "candidate address cannot be empty")
	}

	if strings.Contains(addr, "/") {
		return validation.NewError("validation_invalid_candidate", "candidate must not contain a scheme or path")
	}

	host := addr
	if h, port, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return validation.NewError("validation_invalid_port", "candidate port must be between 1 and 65535")
		}
		host = h
	}

	if err := is.Host.Validate(host); err != nil {
		return validation.NewError("validation_invalid_candidate", "candidate must be an IP or hostname")
	}

	return nil
}
