package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Stores selectable with SIDE_STORE and IDEMPOTENCY_STORE.
const (
	SideStoreCRM      = "crm"
	SideStorePostgres = "postgres"
	StoreRedis        = "redis"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"45s"`
	RateLimit         int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"300"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// BitrixWebhookURL serves calls made outside a placement, e.g. by the worker.
	BitrixWebhookURL   string `envconfig:"BITRIX_WEBHOOK_URL"`
	// BitrixPortalOrigin lists the portals allowed to launch the app, comma-separated.
	BitrixPortalOrigin string `envconfig:"BITRIX_PORTAL_ORIGIN"`
	BitrixMemberID     string `envconfig:"BITRIX_MEMBER_ID"`
	BitrixDiskFolderID int64  `envconfig:"BITRIX_DISK_FOLDER_ID"`
	EstimateField      string `envconfig:"BITRIX_ESTIMATE_FIELD" default:"OPPORTUNITY"`
	DiscountField      string `envconfig:"BITRIX_DISCOUNT_FIELD" default:"UF_MAX_DISCOUNT"`
	CompanyNIPField    string `envconfig:"BITRIX_COMPANY_NIP_FIELD" default:"UF_CRM_NIP"`
	DocumentField      string `envconfig:"BITRIX_DOCUMENT_FIELD" default:"UF_CRM_ERP_DOCUMENT"`
	PackagingField     string `envconfig:"BITRIX_PACKAGING_FIELD" default:"UF_CRM_PACKAGING_DATA"`
	VerificationField  string `envconfig:"BITRIX_VERIFICATION_FIELD" default:"UF_CRM_VERIFICATION_DATA"`
	ReturnsField       string `envconfig:"BITRIX_RETURNS_FIELD" default:"UF_CRM_RETURNS_DATA"`
	AdditionalField    string `envconfig:"BITRIX_ADDITIONAL_FIELD" default:"UF_CRM_ADDITIONAL_DATA"`

	ComarchURL         string        `envconfig:"COMARCH_URL"`
	ComarchUsername    string        `envconfig:"COMARCH_USERNAME"`
	ComarchPassword    string        `envconfig:"COMARCH_PASSWORD"`
	ComarchTokenMargin time.Duration `envconfig:"COMARCH_TOKEN_MARGIN" default:"60s"`
	ComarchWarehouse   string        `envconfig:"COMARCH_WAREHOUSE" default:"MAG"`

	SQLServiceURL   string `envconfig:"SQLSVC_URL"`
	SQLServiceToken string `envconfig:"SQLSVC_TOKEN"`

	GotenbergURL string `envconfig:"GOTENBERG_URL"`

	PriceTablePath  string        `envconfig:"PRICE_TABLE_PATH"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"30m"`

	SideStore        string        `envconfig:"SIDE_STORE" default:"crm"`
	IdempotencyStore string        `envconfig:"IDEMPOTENCY_STORE" default:"redis"`
	IdempotencyTTL   time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"720h"`
	PGDSN     string `envconfig:"PG_DSN"`
	PGMaxConn int32  `envconfig:"PG_MAX_CONNS" default:"8"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"crmbridge_session"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"8h"`
	CSRFSecret    string        `envconfig:"CSRF_SECRET" required:"true"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"5"`
}

// LoadConfig reads configuration from environment variables, after loading a
// .env file from the working directory when one exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("app: load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express.
func (c *Config) Validate() error {
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	c.SideStore = strings.ToLower(strings.TrimSpace(c.SideStore))
	switch c.SideStore {
	case "", SideStoreCRM:
		c.SideStore = SideStoreCRM
	case SideStorePostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN is required when SIDE_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown SIDE_STORE %q", c.SideStore)
	}
	c.IdempotencyStore = strings.ToLower(strings.TrimSpace(c.IdempotencyStore))
	switch c.IdempotencyStore {
	case "", StoreRedis:
		c.IdempotencyStore = StoreRedis
	case SideStorePostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN is required when IDEMPOTENCY_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown IDEMPOTENCY_STORE %q", c.IdempotencyStore)
	}
	if c.ComarchURL != "" && (c.ComarchUsername == "" || c.ComarchPassword == "") {
		return errors.New("COMARCH_USERNAME and COMARCH_PASSWORD are required with COMARCH_URL")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
