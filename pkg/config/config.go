package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds the runtime configuration of the settlement service.
type Config struct {
	ServiceName      string // e.g. "settlementd"
	Env              string // "dev", "uat", "prod"
	LogLevel         string
	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int
	RateLimitRPS     int
	RateLimitBurst   int
	AuthMaxSkew      time.Duration // accepted age of X-Caller-Timestamp

	// Engine identity and signing domain
	ChainID       uint64
	DomainName    string
	DomainVersion string
	EngineAddress common.Address
	AdminAddress  common.Address
	FeeRateBps    uint64
	GenesisFile   string

	// Quote registry: "memory" or "redis"
	RegistryBackend string

	RedisAddr string
	RedisDB   int
	RedisPass string
	CacheTTL  time.Duration

	DatabaseURL         string
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	NATSEnabled   bool
	NATSURL       string
	SubjectPrefix string // events are published under {prefix}.{kind}.v1

	AMQPURL      string // relayer intake is disabled when empty
	RelayerQueue string
	ResultsQueue string

	EthRPCURL string // on-chain ERC-1271 resolution is disabled when empty

	FeeSnapshotInterval time.Duration

	AWSRegion   string
	CleanupFreq time.Duration
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName:      GetEnv("SERVICE_NAME", "settlementd"),
		Env:              GetEnv("ENV", "dev"),
		LogLevel:         GetEnv("LOG_LEVEL", "info"),
		Port:             GetEnvInt("SETTLEMENT_PORT", 9020),
		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),
		RateLimitRPS:     GetEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   GetEnvInt("RATE_LIMIT_BURST", 40),
		AuthMaxSkew:      GetEnvDuration("AUTH_MAX_SKEW", 5*time.Minute),

		ChainID:       GetEnvUint64("CHAIN_ID", 1),
		DomainName:    GetEnv("DOMAIN_NAME", "QuoteSettlement"),
		DomainVersion: GetEnv("DOMAIN_VERSION", "1"),
		EngineAddress: GetEnvAddress("ENGINE_ADDRESS"),
		AdminAddress:  GetEnvAddress("ADMIN_ADDRESS"),
		FeeRateBps:    GetEnvUint64("FEE_RATE_BPS", 30),
		GenesisFile:   GetEnv("GENESIS_FILE", "genesis.toml"),

		RegistryBackend: strings.ToLower(GetEnv("REGISTRY_BACKEND", "memory")),

		RedisAddr: GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   GetEnvInt("REDIS_DB", 0),
		RedisPass: GetEnv("REDIS_PASS", ""),
		CacheTTL:  GetEnvDuration("CACHE_TTL", 24*time.Hour),

		DatabaseURL:         GetEnv("DATABASE_URL", ""),
		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		NATSEnabled:   GetEnvBool("NATS_ENABLED", true),
		NATSURL:       GetEnv("NATS_URL", "nats://localhost:4222"),
		SubjectPrefix: GetEnv("SUBJECT_PREFIX", "evt.settlement"),

		AMQPURL:      GetEnv("AMQP_URL", ""),
		RelayerQueue: GetEnv("RELAYER_QUEUE", "inbound.settlements.relayer"),
		ResultsQueue: GetEnv("RESULTS_QUEUE", "outbound.settlements.results"),

		EthRPCURL: GetEnv("ETH_RPC_URL", ""),

		FeeSnapshotInterval: GetEnvDuration("FEE_SNAPSHOT_INTERVAL", 1*time.Hour),

		AWSRegion:   GetEnv("AWS_REGION", "us-east-2"),
		CleanupFreq: GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),
	}
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.EngineAddress == (common.Address{}) {
		errs = append(errs, errors.New("ENGINE_ADDRESS must be a hex address"))
	}
	if c.AdminAddress == (common.Address{}) {
		errs = append(errs, errors.New("ADMIN_ADDRESS must be a hex address"))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	switch c.RegistryBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_BACKEND %q is not memory or redis", c.RegistryBackend))
	}
	return errors.Join(errs...)
}
