package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Store     StoreConfig      `mapstructure:"store"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Images    ImagesConfig     `mapstructure:"images"`
	Security  SecurityConfig   `mapstructure:"security"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Resources []ResourceConfig `mapstructure:"resources"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Debug           bool          `mapstructure:"debug"`
	AdminKey        string        `mapstructure:"admin_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

// StoreConfig selects where wiki entities live. "sql" reuses the database
// above; "dynamodb" keeps one table per resource.
type StoreConfig struct {
	Backend        string `mapstructure:"backend"` // sql | dynamodb
	DynamoRegion   string `mapstructure:"dynamo_region"`
	DynamoEndpoint string `mapstructure:"dynamo_endpoint"` // local DynamoDB / LocalStack
	DynamoPrefix   string `mapstructure:"dynamo_table_prefix"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
	ResponseTTL     time.Duration `mapstructure:"response_ttl"`
}

type ImagesConfig struct {
	// Upstream is the asset base URL; empty disables the proxy.
	Upstream string        `mapstructure:"upstream"`
	TTL      time.Duration `mapstructure:"ttl"`
	// MaxBytes caps one image, CacheBytes the whole in-memory cache.
	MaxBytes      int64         `mapstructure:"max_bytes"`
	CacheBytes    int64         `mapstructure:"cache_bytes"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the browser origins allowed by CORS.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminIPs restricts /api/admin to these client IPs when non-empty.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type AuditConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// ResourceConfig is one editable collection, served at /api/<name>.
type ResourceConfig struct {
	Name    string `mapstructure:"name"`
	IDField string `mapstructure:"id_field"`
}

// DefaultResources are the wiki's collections when none are configured.
func DefaultResources() []ResourceConfig {
	return []ResourceConfig{
		{Name: "champions", IDField: "championCode"},
		{Name: "relics", IDField: "relicCode"},
		{Name: "items", IDField: "itemCode"},
		{Name: "powers", IDField: "powerCode"},
		{Name: "runes", IDField: "runeCode"},
		{Name: "guides", IDField: "guideId"},
		{Name: "maps", IDField: "mapCode"},
	}
}

// Resource looks up a configured resource by name.
func (c *Config) Resource(name string) (ResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceConfig{}, false
}

// Load reads config from the given YAML file path. Any key can be overridden
// from the environment as WIKI_<SECTION>_<KEY>, e.g. WIKI_SERVER_ADMIN_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("wiki")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Resources) == 0 {
		cfg.Resources = DefaultResources()
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/wiki.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("store.backend", "sql")
	v.SetDefault("store.dynamo_region", "us-east-1")
	v.SetDefault("store.dynamo_endpoint", "")
	v.SetDefault("store.dynamo_table_prefix", "wiki_")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("cache.response_ttl", "60s")
	v.SetDefault("images.upstream", "")
	v.SetDefault("images.ttl", "1h")
	v.SetDefault("images.max_bytes", 5<<20)
	v.SetDefault("images.cache_bytes", 128<<20)
	v.SetDefault("images.fetch_timeout", "10s")
	v.SetDefault("images.sweep_interval", "5m")
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("audit.retention", "2160h")
	v.SetDefault("audit.purge_interval", "1h")
}
