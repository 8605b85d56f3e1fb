package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// AppConfig is the full service configuration, read from paygram.yaml
// with secrets overlaid from the environment.
type AppConfig struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Escrow   EscrowConfig   `mapstructure:"escrow"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

type ServiceConfig struct {
	HTTPPort             int           `mapstructure:"httpPort"`
	Environment          string        `mapstructure:"environment"`
	HMACClockSkew        time.Duration `mapstructure:"hmacClockSkew"`
	IdempotencyWindow    time.Duration `mapstructure:"idempotencyWindow"`
	IdempotencyStorePath string        `mapstructure:"idempotencyStorePath"`
	DriftLogPath         string        `mapstructure:"driftLogPath"`
}

type ChainConfig struct {
	ChainID        int64         `mapstructure:"chainId"`
	RPCURL         string        `mapstructure:"rpcUrl"`
	PrivateKey     string        `mapstructure:"privateKey"`
	ConfirmTimeout time.Duration `mapstructure:"confirmTimeout"`
}

// EscrowConfig points at the deployed MessageEscrow program. The init
// code hash is fixed at deployment time and feeds address derivation.
type EscrowConfig struct {
	ProgramAddress string `mapstructure:"programAddress"`
	InitCodeHash   string `mapstructure:"initCodeHash"`
	TokenSymbol    string `mapstructure:"tokenSymbol"`
	TokenDecimals  int    `mapstructure:"tokenDecimals"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LimitsConfig carries decimal strings; parsing happens at wiring time.
type LimitsConfig struct {
	MinAmount string `mapstructure:"minAmount"`
	MaxAmount string `mapstructure:"maxAmount"`
	FeeBuffer string `mapstructure:"feeBuffer"`
}

type SecretsConfig struct {
	HMACSecret      string `mapstructure:"hmacSecret"`
	DebugHMACSecret string `mapstructure:"debugHmacSecret"`
}

const configName = "paygram"

// LoadConfig locates and reads the config file. A missing file is not
// an error; defaults plus environment cover dev runs.
func LoadConfig() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if path := envOr("CONFIG_PATH", ""); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	v.SetDefault("service.httpPort", 3000)
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.hmacClockSkew", "60s")
	v.SetDefault("service.idempotencyWindow", "300s")
	v.SetDefault("service.idempotencyStorePath", filepath.Join(os.TempDir(), "paygram-idem.json"))
	v.SetDefault("chain.confirmTimeout", "90s")
	v.SetDefault("escrow.tokenSymbol", "ETH")
	v.SetDefault("escrow.tokenDecimals", 18)
	v.SetDefault("limits.feeBuffer", "0.001")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// ParseConfig unmarshals into the typed structure.
func ParseConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	v, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(v)
	if err != nil {
		return nil, err
	}

	cfg.Service.HTTPPort = envOrInt("API_HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Chain.RPCURL = envOr("CHAIN_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.PrivateKey = envOr("CHAIN_PRIVATE_KEY", cfg.Chain.PrivateKey)
	cfg.Database.DSN = envOr("DATABASE_URL", cfg.Database.DSN)
	cfg.Redis.Addr = envOr("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Secrets.HMACSecret = envOr("HMAC_SECRET", cfg.Secrets.HMACSecret)
	cfg.Secrets.DebugHMACSecret = envOr("DEBUG_HMAC_SECRET", cfg.Secrets.DebugHMACSecret)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Escrow.ProgramAddress != "" && !common.IsHexAddress(c.Escrow.ProgramAddress) {
		return fmt.Errorf("escrow.programAddress %q is not a hex address", c.Escrow.ProgramAddress)
	}
	if c.Escrow.InitCodeHash != "" {
		if len(common.FromHex(c.Escrow.InitCodeHash)) != common.HashLength {
			return fmt.Errorf("escrow.initCodeHash %q is not a 32-byte hash", c.Escrow.InitCodeHash)
		}
	}
	if c.Escrow.TokenDecimals < 0 || c.Escrow.TokenDecimals > 38 {
		return fmt.Errorf("escrow.tokenDecimals %d out of range", c.Escrow.TokenDecimals)
	}
	return nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
