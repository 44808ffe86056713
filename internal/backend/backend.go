// Package backend turns binary configuration into a recordx connection pool.
package backend

import (
	"context"
	"io"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/algolia"
	"github.com/letmevibethatforyou/recordx/inmemory"
	"github.com/letmevibethatforyou/recordx/internal/config"
	"github.com/letmevibethatforyou/recordx/redis"
)

// OnAWS reports whether the process runs inside AWS.
func OnAWS() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != ""
}

// NewLogger builds the process logger. JSON output is used on AWS or when
// configured.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.Logging.Format == "json" || OnAWS() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Dialer returns the dialer for the configured store driver.
func Dialer(ctx context.Context, cfg config.Config, logger *slog.Logger) (recordx.Dialer, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return inmemory.New().Dial, nil

	case config.DriverAlgolia:
		fetch, err := algoliaSecrets(ctx, cfg.Algolia, logger)
		if err != nil {
			return nil, err
		}
		return algolia.NewClient(fetch).Dial, nil

	case config.DriverRedis:
		if len(cfg.Redis.Addrs) == 0 {
			return redis.Dial, nil
		}
		rc := redis.Config{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		return func(ctx context.Context, _ string) (recordx.Client, error) {
			return redis.NewClient(rc)
		}, nil

	default:
		return nil, errors.Newf("unknown store driver %q", cfg.Store.Driver)
	}
}

// NewPool creates a pool for the configured store. It is established lazily
// on first use.
func NewPool(ctx context.Context, cfg config.Config, logger *slog.Logger) (*recordx.ConnectionPool, error) {
	dial, err := Dialer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return recordx.NewConnectionPool(dial,
		recordx.WithPoolLogger(logger),
		recordx.WithPoolConfig(cfg.PoolConfig()),
	), nil
}

// algoliaSecrets picks the credential source: static credentials, then a
// secret ARN, then the environment-scoped secret, then the process
// environment.
func algoliaSecrets(ctx context.Context, cfg config.AlgoliaConfig, logger *slog.Logger) (algolia.FetchSecrets, error) {
	if cfg.AppID != "" && cfg.APIKey != "" {
		logger.InfoContext(ctx, "Using static Algolia credentials")
		return algolia.StaticSecrets(cfg.AppID, cfg.APIKey), nil
	}

	if cfg.SecretARN == "" && !OnAWS() {
		logger.InfoContext(ctx, "Using environment variables for Algolia credentials")
		return algolia.EnvSecrets(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	client := secretsmanager.NewFromConfig(awsCfg)

	if cfg.SecretARN != "" {
		logger.InfoContext(ctx, "Using AWS Secrets Manager for Algolia credentials", "secret_arn", cfg.SecretARN)
		return algolia.AWSSecretsFromARN(ctx, client, cfg.SecretARN), nil
	}
	logger.InfoContext(ctx, "Using AWS Secrets Manager for Algolia credentials", "environment", cfg.Env)
	return algolia.AWSSecrets(ctx, client, cfg.Env), nil
}
