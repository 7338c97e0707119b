package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Backup      BackupConfig      `yaml:"backup"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Zoho        ZohoConfig        `yaml:"zoho"`
	WooCommerce WooCommerceConfig `yaml:"woocommerce"`
	Sync        SyncConfig        `yaml:"sync"`
	Exports     ExportConfig      `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ZohoConfig struct {
	ClientID       string                       `yaml:"client_id"`
	ClientSecret   string                       `yaml:"client_secret"`
	RedirectURI    string                       `yaml:"redirect_uri"`
	AccountsURL    string                       `yaml:"accounts_url"`
	OrganizationID string                       `yaml:"organization_id"`
	TokenType      string                       `yaml:"token_type"`
	RefreshMargin  time.Duration                `yaml:"refresh_margin"`
	HTTPTimeout    time.Duration                `yaml:"http_timeout"`
	RateLimitRPS   float64                      `yaml:"rate_limit_rps"`
	RateLimitBurst int                          `yaml:"rate_limit_burst"`
	Services       map[string]ZohoServiceConfig `yaml:"services"`
}

type ZohoServiceConfig struct {
	BaseURL string   `yaml:"base_url"`
	Scopes  []string `yaml:"scopes"`
}

type WooCommerceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	Timeout        time.Duration `yaml:"timeout"`
	WriteBackMeta  bool          `yaml:"write_back_meta"`
}

type SyncConfig struct {
	BatchSize           int                    `yaml:"batch_size"`
	MaxAttempts         int                    `yaml:"max_attempts"`
	LeaseTimeout        time.Duration          `yaml:"lease_timeout"`
	Schedule            string                 `yaml:"schedule"`
	MaintenanceSchedule string                 `yaml:"maintenance_schedule"`
	RealTime            bool                   `yaml:"real_time"`
	RetryRejections     bool                   `yaml:"retry_rejections"`
	Retry               RetryConfig            `yaml:"retry"`
	LogRetention        time.Duration          `yaml:"log_retention"`
	CompletedRetention  time.Duration          `yaml:"completed_retention"`
	MappingCacheTTL     time.Duration          `yaml:"mapping_cache_ttl"`
	SchemaCacheTTL      time.Duration          `yaml:"schema_cache_ttl"`
	MappingsFile        string                 `yaml:"mappings_file"`
	Routes              map[string]RouteConfig `yaml:"routes"`
}

type RetryConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// RouteConfig says where a local object type is synced to.
type RouteConfig struct {
	Service      string `yaml:"service"`
	RemoteModule string `yaml:"remote_module"`
	EntityKind   string `yaml:"entity_kind"`
	MappingKey   string `yaml:"mapping_module"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	for service := range c.Zoho.Services {
		if !models.IsValidService(service) {
			return fmt.Errorf("unknown zoho service %q", service)
		}
	}

	for objectType, route := range c.Sync.Routes {
		if !models.IsValidObjectType(objectType) {
			return fmt.Errorf("route for unknown object type %q", objectType)
		}
		if !models.IsValidService(route.Service) {
			return fmt.Errorf("route %s: unknown service %q", objectType, route.Service)
		}
		if route.RemoteModule == "" {
			return fmt.Errorf("route %s: remote_module is required", objectType)
		}
	}

	if c.Sync.Retry.BackoffFactor < 1 {
		return errors.New("sync.retry.backoff_factor must be >= 1")
	}

	return nil
}

// OAuthConfigured reports whether the client credentials needed for OAuth are present.
func (c *ZohoConfig) OAuthConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURI != ""
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	c.applyZohoDefaults()
	c.applySyncDefaults()

	if c.WooCommerce.Timeout == 0 {
		c.WooCommerce.Timeout = 15 * time.Second
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
}

func (c *Config) applyZohoDefaults() {
	z := &c.Zoho
	if z.AccountsURL == "" {
		z.AccountsURL = "https://accounts.zoho.com"
	}
	if z.TokenType == "" {
		z.TokenType = "Zoho-oauthtoken"
	}
	if z.RefreshMargin == 0 {
		z.RefreshMargin = models.DefaultRefreshMargin * time.Second
	}
	if z.HTTPTimeout == 0 {
		z.HTTPTimeout = 30 * time.Second
	}
	if z.RateLimitRPS == 0 {
		z.RateLimitRPS = 5
	}
	if z.RateLimitBurst == 0 {
		z.RateLimitBurst = 10
	}
	if z.Services == nil {
		z.Services = map[string]ZohoServiceConfig{}
	}
	defaults := map[string]ZohoServiceConfig{
		models.ServiceCRM:       {BaseURL: "https://www.zohoapis.com/crm/v2", Scopes: []string{"ZohoCRM.modules.ALL", "ZohoCRM.settings.fields.READ"}},
		models.ServiceInventory: {BaseURL: "https://www.zohoapis.com/inventory/v1", Scopes: []string{"ZohoInventory.FullAccess.all"}},
		models.ServiceBooks:     {BaseURL: "https://www.zohoapis.com/books/v3", Scopes: []string{"ZohoBooks.fullaccess.all"}},
		models.ServiceCampaigns: {BaseURL: "https://campaigns.zoho.com/api/v1.1", Scopes: []string{"ZohoCampaigns.contact.ALL"}},
	}
	for name, def := range defaults {
		svc := z.Services[name]
		if svc.BaseURL == "" {
			svc.BaseURL = def.BaseURL
		}
		if len(svc.Scopes) == 0 {
			svc.Scopes = def.Scopes
		}
		z.Services[name] = svc
	}
}

func (c *Config) applySyncDefaults() {
	s := &c.Sync
	if s.BatchSize == 0 {
		s.BatchSize = models.DefaultBatchSize
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = models.DefaultMaxAttempts
	}
	if s.LeaseTimeout == 0 {
		s.LeaseTimeout = models.DefaultLeaseTimeout * time.Second
	}
	if s.Schedule == "" {
		s.Schedule = "@every 1m"
	}
	if s.MaintenanceSchedule == "" {
		s.MaintenanceSchedule = "@daily"
	}
	if s.Retry.InitialDelay == 0 {
		s.Retry.InitialDelay = 30 * time.Second
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = time.Hour
	}
	if s.Retry.BackoffFactor == 0 {
		s.Retry.BackoffFactor = 2
	}
	if s.LogRetention == 0 {
		s.LogRetention = 30 * 24 * time.Hour
	}
	if s.CompletedRetention == 0 {
		s.CompletedRetention = 7 * 24 * time.Hour
	}
	if s.MappingCacheTTL == 0 {
		s.MappingCacheTTL = models.MappingCacheTTL * time.Second
	}
	if s.SchemaCacheTTL == 0 {
		s.SchemaCacheTTL = models.SchemaCacheTTL * time.Second
	}
	if env := os.Getenv("MAPPINGS_PATH"); env != "" {
		s.MappingsFile = env
	}
	if s.MappingsFile == "" {
		s.MappingsFile = "configs/mappings.yaml"
	}
	if s.Routes == nil {
		s.Routes = DefaultRoutes()
	}
	for objectType, route := range s.Routes {
		if route.MappingKey == "" {
			route.MappingKey = objectType
		}
		if route.EntityKind == "" {
			route.EntityKind = route.RemoteModule
		}
		s.Routes[objectType] = route
	}
}

// DefaultRoutes sends customers and orders to CRM, catalog data to Inventory and invoices to Books.
func DefaultRoutes() map[string]RouteConfig {
	return map[string]RouteConfig{
		models.ObjectCustomer: {Service: models.ServiceCRM, RemoteModule: "Contacts", EntityKind: "contacts"},
		models.ObjectOrder:    {Service: models.ServiceCRM, RemoteModule: "Sales_Orders", EntityKind: "sales_orders"},
		models.ObjectProduct:  {Service: models.ServiceInventory, RemoteModule: "items", EntityKind: "items"},
		models.ObjectCoupon:   {Service: models.ServiceCRM, RemoteModule: "Price_Books", EntityKind: "price_books"},
		models.ObjectInvoice:  {Service: models.ServiceBooks, RemoteModule: "invoices", EntityKind: "invoices"},
	}
}
