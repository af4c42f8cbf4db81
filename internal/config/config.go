package config

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the typed view over the viper keys used by the server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Argon2     Argon2Config
	Billing    BillingConfig
	WhatsApp   WhatsAppConfig
	SerpAPI    SerpAPIConfig
	Cloudinary CloudinaryConfig
	Speech     SpeechConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

type Argon2Config struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength int
}

type BillingConfig struct {
	WebhookSecret      string
	PixKey             string
	MerchantName       string
	MerchantCity       string
	MinRecharge        float64
	MaxRecharge        float64
	RechargeExpiry     time.Duration
	HoldSettleAfter    time.Duration
	SettlementCron     string
	ExpireRechargeCron string
}

type WhatsAppConfig struct {
	APIBaseURL    string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
	MaxResults    int
}

type SerpAPIConfig struct {
	BaseURL  string
	APIKey   string
	MaxPages int
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type SpeechConfig struct {
	Enabled      bool
	LanguageCode string
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

var envBindings = map[string]string{
	"server.port": "PORT",
	"server.env":  "SERVER_ENV",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key":   "JWT_SECRET_KEY",
	"jwt.expiry_hours": "JWT_EXPIRY_HOURS",

	"argon2.time":        "ARGON2_TIME",
	"argon2.memory":      "ARGON2_MEMORY",
	"argon2.threads":     "ARGON2_THREADS",
	"argon2.key_length":  "ARGON2_KEY_LENGTH",
	"argon2.salt_length": "ARGON2_SALT_LENGTH",

	"billing.webhook_secret": "BILLING_WEBHOOK_SECRET",
	"billing.pix_key":        "PIX_KEY",
	"billing.merchant_name":  "PIX_MERCHANT_NAME",
	"billing.merchant_city":  "PIX_MERCHANT_CITY",

	"whatsapp.api_base_url":    "WHATSAPP_API_BASE_URL",
	"whatsapp.phone_number_id": "WHATSAPP_PHONE_NUMBER_ID",
	"whatsapp.access_token":    "WHATSAPP_ACCESS_TOKEN",
	"whatsapp.verify_token":    "WHATSAPP_VERIFY_TOKEN",
	"whatsapp.app_secret":      "WHATSAPP_APP_SECRET",

	"serpapi.base_url":  "SERPAPI_BASE_URL",
	"serpapi.api_key":   "SERPAPI_API_KEY",
	"serpapi.max_pages": "SERPAPI_MAX_PAGES",

	"cloudinary.cloud_name": "CLOUDINARY_CLOUD_NAME",
	"cloudinary.api_key":    "CLOUDINARY_API_KEY",
	"cloudinary.api_secret": "CLOUDINARY_API_SECRET",

	"speech.enabled": "SPEECH_ENABLED",

	"rate_limit.rps":   "RATE_LIMIT_RPS",
	"rate_limit.burst": "RATE_LIMIT_BURST",
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "buscai")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("jwt.expiry_hours", 24)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("billing.merchant_name", "BUSCAI")
	viper.SetDefault("billing.merchant_city", "SAO PAULO")
	viper.SetDefault("billing.min_recharge", 10.0)
	viper.SetDefault("billing.max_recharge", 10000.0)
	viper.SetDefault("billing.recharge_expiry", 24*time.Hour)
	viper.SetDefault("billing.hold_settle_after", 30*time.Second)
	viper.SetDefault("billing.settlement_cron", "@every 1m")
	viper.SetDefault("billing.expire_recharge_cron", "@every 15m")

	viper.SetDefault("whatsapp.api_base_url", "https://graph.facebook.com/v19.0")
	viper.SetDefault("whatsapp.max_results", 5)

	viper.SetDefault("serpapi.base_url", "https://serpapi.com")
	viper.SetDefault("serpapi.max_pages", 3)

	viper.SetDefault("cloudinary.folder", "buscai/logos")

	viper.SetDefault("speech.enabled", false)
	viper.SetDefault("speech.language_code", "pt-BR")

	viper.SetDefault("rate_limit.rps", 10)
	viper.SetDefault("rate_limit.burst", 20)
}

// Init reads .env, binds the environment and applies defaults. It must run
// before any other package reads viper keys.
func Init() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	for key, env := range envBindings {
		viper.BindEnv(key, env)
	}
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	if viper.GetString("server.env") == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Load builds the typed configuration from viper.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         viper.GetString("server.port"),
			Env:          viper.GetString("server.env"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		JWT: JWTConfig{
			SecretKey:   viper.GetString("jwt.secret_key"),
			ExpiryHours: viper.GetInt("jwt.expiry_hours"),
		},
		Argon2: Argon2Config{
			Time:       viper.GetUint32("argon2.time"),
			Memory:     viper.GetUint32("argon2.memory"),
			Threads:    uint8(viper.GetUint("argon2.threads")),
			KeyLength:  viper.GetUint32("argon2.key_length"),
			SaltLength: viper.GetInt("argon2.salt_length"),
		},
		Billing: BillingConfig{
			WebhookSecret:      viper.GetString("billing.webhook_secret"),
			PixKey:             viper.GetString("billing.pix_key"),
			MerchantName:       viper.GetString("billing.merchant_name"),
			MerchantCity:       viper.GetString("billing.merchant_city"),
			MinRecharge:        viper.GetFloat64("billing.min_recharge"),
			MaxRecharge:        viper.GetFloat64("billing.max_recharge"),
			RechargeExpiry:     viper.GetDuration("billing.recharge_expiry"),
			HoldSettleAfter:    viper.GetDuration("billing.hold_settle_after"),
			SettlementCron:     viper.GetString("billing.settlement_cron"),
			ExpireRechargeCron: viper.GetString("billing.expire_recharge_cron"),
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL:    viper.GetString("whatsapp.api_base_url"),
			PhoneNumberID: viper.GetString("whatsapp.phone_number_id"),
			AccessToken:   viper.GetString("whatsapp.access_token"),
			VerifyToken:   viper.GetString("whatsapp.verify_token"),
			AppSecret:     viper.GetString("whatsapp.app_secret"),
			MaxResults:    viper.GetInt("whatsapp.max_results"),
		},
		SerpAPI: SerpAPIConfig{
			BaseURL:  viper.GetString("serpapi.base_url"),
			APIKey:   viper.GetString("serpapi.api_key"),
			MaxPages: viper.GetInt("serpapi.max_pages"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: viper.GetString("cloudinary.cloud_name"),
			APIKey:    viper.GetString("cloudinary.api_key"),
			APISecret: viper.GetString("cloudinary.api_secret"),
			Folder:    viper.GetString("cloudinary.folder"),
		},
		Speech: SpeechConfig{
			Enabled:      viper.GetBool("speech.enabled"),
			LanguageCode: viper.GetString("speech.language_code"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: viper.GetInt("rate_limit.rps"),
			Burst:             viper.GetInt("rate_limit.burst"),
		},
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	if c.JWT.ExpiryHours <= 0 {
		return fmt.Errorf("JWT_EXPIRY_HOURS must be positive, got %d", c.JWT.ExpiryHours)
	}
	if c.Argon2.SaltLength <= 0 || c.Argon2.KeyLength == 0 {
		return errors.New("argon2 salt and key lengths must be positive")
	}
	return nil
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
