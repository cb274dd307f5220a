package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	S3Endpoint  string `env:"R2_ENDPOINT"`
	S3Region    string `env:"R2_REGION" envDefault:"auto"`
	S3Bucket    string `env:"R2_BUCKET_NAME" envDefault:"aic-files"`
	S3AccessKey string `env:"R2_ACCESS_KEY_ID"`
	S3SecretKey string `env:"R2_SECRET_ACCESS_KEY"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"536870912"` // 512 MiB
	DownloadTTLSec int   `env:"DOWNLOAD_TTL_SEC" envDefault:"300"`

	RateLimitWindowSec int `env:"RATE_LIMIT_WINDOW_SEC" envDefault:"60"`
	RateLimitUpload    int `env:"RATE_LIMIT_UPLOAD" envDefault:"5"`
	RateLimitConvert   int `env:"RATE_LIMIT_CONVERT" envDefault:"10"`
	RateLimitDownload  int `env:"RATE_LIMIT_DOWNLOAD" envDefault:"20"`
	RateLimitAPI       int `env:"RATE_LIMIT_API" envDefault:"30"`
	RateLimitStatus    int `env:"RATE_LIMIT_STATUS" envDefault:"60"`

	// When the broker is unreachable the limiter admits requests instead of
	// erroring. Job-store writes stay fail-closed regardless: quota is
	// advisory, job state is authoritative.
	RateLimitFailOpen bool `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`

	AdminAPIKey string `env:"ADMIN_API_KEY,notEmpty"`

	AuditPostgresDSN   string `env:"AUDIT_POSTGRES_DSN"`
	AuditMigrationsDir string `env:"AUDIT_MIGRATIONS_DIR" envDefault:"migrations"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "parse environment")
	}
	if c.MaxUploadBytes <= 0 {
		return c, errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.DownloadTTLSec <= 0 {
		return c, errors.New("DOWNLOAD_TTL_SEC must be positive")
	}
	return c, nil
}
