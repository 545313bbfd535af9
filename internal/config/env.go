package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/opensource-finance/billguard/internal/domain"
)

// FromEnv builds the service configuration from BILLGUARD_* variables.
// BILLGUARD_TIER=pro starts from ProConfig, anything else from DefaultConfig.
func FromEnv(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if getenv("BILLGUARD_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalidValue, key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v := getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %q is not a boolean", ErrInvalidValue, key, v))
			return
		}
		*dst = b
	}

	str("BILLGUARD_HOST", &cfg.Server.Host)
	num("BILLGUARD_PORT", &cfg.Server.Port)
	str("BILLGUARD_DETECTION_CONFIG", &cfg.DetectionConfigPath)

	str("BILLGUARD_DB_DRIVER", &cfg.Repository.Driver)
	str("BILLGUARD_SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("BILLGUARD_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	num("BILLGUARD_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	str("BILLGUARD_POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("BILLGUARD_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("BILLGUARD_POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("BILLGUARD_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("BILLGUARD_CACHE", &cfg.Cache.Type)
	str("BILLGUARD_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("BILLGUARD_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	num("BILLGUARD_REDIS_DB", &cfg.Cache.RedisDB)

	str("BILLGUARD_BUS", &cfg.EventBus.Type)
	str("BILLGUARD_NATS_URL", &cfg.EventBus.NATSUrl)
	str("BILLGUARD_NATS_TOKEN", &cfg.EventBus.NATSToken)

	str("BILLGUARD_LOG_LEVEL", &cfg.Logging.Level)
	str("BILLGUARD_LOG_FORMAT", &cfg.Logging.Format)

	var debug bool
	flag("BILLGUARD_DEBUG", &debug)
	if debug {
		cfg.Logging.Level = "debug"
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}
