package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/allinconverter/aic-core/internal/api"
	"github.com/allinconverter/aic-core/internal/audit"
	"github.com/allinconverter/aic-core/internal/config"
	"github.com/allinconverter/aic-core/internal/metrics"
	"github.com/allinconverter/aic-core/internal/operation"
	"github.com/allinconverter/aic-core/internal/queue"
	"github.com/allinconverter/aic-core/internal/ratelimit"
	"github.com/allinconverter/aic-core/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := buildLogger(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := operation.Validate(); err != nil {
		log.Fatal("operation registry invalid", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	s3Client, err := buildS3Client(ctx, cfg)
	if err != nil {
		log.Fatal("object store client", zap.Error(err))
	}

	auditLog, closeAudit, err := buildAudit(ctx, cfg, log)
	if err != nil {
		log.Fatal("audit sink", zap.Error(err))
	}
	defer closeAudit()

	started := time.Now()
	jobs := queue.New(rdb)
	store := storage.New(s3Client, cfg.S3Bucket)
	limiter := ratelimit.New(rdb, log, time.Duration(cfg.RateLimitWindowSec)*time.Second, map[ratelimit.Class]int{
		ratelimit.Upload:   cfg.RateLimitUpload,
		ratelimit.Convert:  cfg.RateLimitConvert,
		ratelimit.Download: cfg.RateLimitDownload,
		ratelimit.API:      cfg.RateLimitAPI,
		ratelimit.Status:   cfg.RateLimitStatus,
	}, cfg.RateLimitFailOpen)
	rec := metrics.NewRecorder(rdb, jobs, started)

	server := api.NewServer(cfg, log, jobs, store, limiter, rec, auditLog)
	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No global write timeout: uploads up to the size ceiling may take
		// minutes on slow links.
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func buildLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// buildAudit wires the Postgres audit sink when a DSN is configured,
// applying its migrations first; otherwise audit events go to the
// structured log only.
func buildAudit(ctx context.Context, cfg config.Config, log *zap.Logger) (audit.Log, func(), error) {
	if cfg.AuditPostgresDSN == "" {
		return audit.NewZapLog(log), func() {}, nil
	}

	migDB, err := sql.Open("pgx", cfg.AuditPostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = migDB.Close() }()
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, nil, err
	}
	if err := goose.Up(migDB, cfg.AuditMigrationsDir); err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.AuditPostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewPostgresLog(pool, log), pool.Close, nil
}
