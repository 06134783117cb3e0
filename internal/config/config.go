package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ElonQian1/QuickTalk--sub006/internal/domain"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Log        LogConfig                  `mapstructure:"log"`
	Gateway    GatewayConfig              `mapstructure:"gateway"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Auth       AuthConfig                 `mapstructure:"auth"`
	Database   DatabaseConfig             `mapstructure:"database"`
	Redis      RedisConfig                `mapstructure:"redis"`
	Audit      AuditConfig                `mapstructure:"audit"`
	Metrics    MetricsConfig              `mapstructure:"metrics"`
	Tenants    []TenantConfig             `mapstructure:"tenants"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug / release / test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GatewayConfig struct {
	// 仅在没有任何店铺时放行所有请求，生产环境必须关闭
	OpenRegistryBypass bool          `mapstructure:"open_registry_bypass"`
	TrustProxyHeaders  bool          `mapstructure:"trust_proxy_headers"`
	ProtectedPrefix    string        `mapstructure:"protected_prefix"`
	ExemptPrefixes     []string      `mapstructure:"exempt_prefixes"`
	Routes             []RouteRule   `mapstructure:"routes"`
	DevDomains         []string      `mapstructure:"dev_domains"`
	RegistryRefresh    time.Duration `mapstructure:"registry_refresh"`
	DNS                DNSConfig     `mapstructure:"dns"`
	// 只读模式：拒绝店铺增删改，运维类重置仍可用
	AdminReadOnly bool `mapstructure:"admin_read_only"`
	// 嵌入代码中使用的对外地址，为空时取请求 Host
	PublicURL string `mapstructure:"public_url"`
}

// RouteRule maps a path prefix to a rate limit class. The longest matching
// prefix wins.
type RouteRule struct {
	Prefix string `mapstructure:"prefix"`
	Class  string `mapstructure:"class"`
}

type DNSConfig struct {
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN                string        `mapstructure:"dsn"`
	MaxOpenConns       int           `mapstructure:"max_open_conns"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate        bool          `mapstructure:"auto_migrate"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	AuditListKey string `mapstructure:"audit_list_key"`
	AuditListMax int    `mapstructure:"audit_list_max"`
}

type AuditConfig struct {
	// Sink: auto / postgres / redis / memory
	Sink         string        `mapstructure:"sink"`
	QueueSize    int           `mapstructure:"queue_size"`
	BufferSize   int           `mapstructure:"buffer_size"`
	LogDir       string        `mapstructure:"log_dir"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TenantConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
	Status string `mapstructure:"status"`
}

// Load reads path, or config.yaml from . and ./configs when path is empty.
// Environment variables override file values, e.g. QUICKTALK_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("quicktalk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("gateway.open_registry_bypass", false)
	v.SetDefault("gateway.trust_proxy_headers", false)
	v.SetDefault("gateway.protected_prefix", "/api/")
	v.SetDefault("gateway.exempt_prefixes", []string{"/api/auth/", "/api/admin/", "/api/shop/"})
	v.SetDefault("gateway.routes", []map[string]any{
		{"prefix": "/api/client/messages", "class": string(model.ClassMessageSend)},
		{"prefix": "/api/client/connect", "class": string(model.ClassConnection)},
		{"prefix": "/api/client/integration-code", "class": string(model.ClassCodeGeneration)},
	})
	v.SetDefault("gateway.dev_domains", []string{})
	v.SetDefault("gateway.registry_refresh", "30s")
	v.SetDefault("gateway.admin_read_only", false)
	v.SetDefault("gateway.dns.cache_ttl", "30m")
	v.SetDefault("gateway.dns.negative_ttl", "1m")
	v.SetDefault("gateway.dns.timeout", "3s")

	for class, p := range model.DefaultPolicies() {
		v.SetDefault("rate_limits."+string(class)+".window", p.Window.String())
		v.SetDefault("rate_limits."+string(class)+".max_requests", p.MaxRequests)
	}

	v.SetDefault("auth.admin_key", "")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.audit_retention_days", 30)
	v.SetDefault("database.cleanup_interval", "1h")

	v.SetDefault("redis.audit_list_key", "quicktalk:access_logs")
	v.SetDefault("redis.audit_list_max", 10000)

	v.SetDefault("audit.sink", "auto")
	v.SetDefault("audit.queue_size", 1000)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.write_timeout", "3s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *Config) Validate() error {
	if _, err := c.Policies(); err != nil {
		return err
	}
	for _, r := range c.Gateway.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("gateway.routes: prefix %q must start with /", r.Prefix)
		}
		if _, err := model.ParseOperationClass(r.Class); err != nil {
			return fmt.Errorf("gateway.routes: %w", err)
		}
	}
	switch c.Audit.Sink {
	case "", "auto", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("audit.sink: unknown sink %q", c.Audit.Sink)
	}
	seen := make(map[string]struct{}, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return errors.New("tenants: id is required")
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("tenants: duplicate id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		if !domain.ValidPattern(t.Domain) {
			return fmt.Errorf("tenants[%s]: invalid domain %q", t.ID, t.Domain)
		}
		if t.Status != "" && !model.TenantStatus(t.Status).Valid() {
			return fmt.Errorf("tenants[%s]: invalid status %q", t.ID, t.Status)
		}
	}
	return nil
}

// Policies converts rate_limits into per-class policies.
func (c *Config) Policies() (map[model.OperationClass]model.RateLimitPolicy, error) {
	out := make(map[model.OperationClass]model.RateLimitPolicy, len(c.RateLimits))
	for name, rl := range c.RateLimits {
		class, err := model.ParseOperationClass(name)
		if err != nil {
			return nil, fmt.Errorf("rate_limits: %w", err)
		}
		if rl.Window <= 0 || rl.MaxRequests <= 0 {
			return nil, fmt.Errorf("rate_limits.%s: window and max_requests must be positive", name)
		}
		out[class] = model.RateLimitPolicy{Window: rl.Window, MaxRequests: rl.MaxRequests}
	}
	return out, nil
}

// SeedTenants returns the configured shops. Missing status means active.
func (c *Config) SeedTenants() []*model.Tenant {
	now := time.Now().UTC()
	out := make([]*model.Tenant, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		status := model.TenantStatus(t.Status)
		if status == "" {
			status = model.TenantActive
		}
		out = append(out, &model.Tenant{
			ID:            t.ID,
			Name:          t.Name,
			DomainPattern: domain.Normalize(t.Domain),
			Status:        status,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return out
}
