package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const redacted = "***REDACTED***"

type Config struct {
	ListenPort      string        // ex: ":8000"
	ShutdownTimeout time.Duration // ex: 10s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	PlanFile           string        // path to the bootstrap plan YAML
	DeploymentID       string        // ledger key, defaults to the hostname
	ReadinessTimeout   time.Duration // global deadline for the readiness gate, 0 = none
	ProbeWarnThreshold int           // failed attempts logged at warn before escalating to error

	// Redis
	RedisAddr             string        // ex: "localhost:6379", empty disables the client
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisPoolSize         int           // Redis connection pool size

	// Elasticsearch
	ESAddresses []string      // empty disables the client
	ESUser      string        // optional
	ESPassword  string        // optional
	ESTimeout   time.Duration // response header timeout per request

	// Postgres
	PostgresDSN            string // empty disables the pool
	PostgresMaxConns       int
	PostgresConnectTimeout time.Duration

	// Metrics
	PushgatewayURL string // empty disables pushing before handoff
	PushJob        string

	// Service surface
	AllowedCIDRS    []string      // optional, restrict operational endpoints to these IPs/CIDRs
	TrustProxy      bool          // true => trust X-Forwarded-For headers
	RateLimitBurst  int           // per-IP burst, 0 disables the limiter
	RateLimitPerMin int           // per-IP refill rate
	CheckTimeout    time.Duration // bound for a single /infra check
	HealthInterval  time.Duration // serve mode re-probe period, 0 disables it
}

// Load reads the environment. Malformed optional values fall back to their
// defaults; only inconsistent settings are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("BOOTGATE_LISTEN_PORT", ":8000"),
		ShutdownTimeout: mustDuration("BOOTGATE_SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("BOOTGATE_LOG_LEVEL", "info"),
		PrettyLog: mustBool("BOOTGATE_PRETTY_LOG", false),

		// Bootstrap
		PlanFile:           getenv("BOOTGATE_PLAN", "/etc/bootgate/plan.yaml"),
		DeploymentID:       getenv("BOOTGATE_DEPLOYMENT_ID", ""),
		ReadinessTimeout:   mustDuration("BOOTGATE_READINESS_TIMEOUT", 5*time.Minute),
		ProbeWarnThreshold: getenvInt("BOOTGATE_PROBE_WARN_THRESHOLD", 3),

		// Redis settings
		RedisAddr:             getenv("BOOTGATE_REDIS_ADDR", ""),
		RedisUser:             getenv("BOOTGATE_REDIS_USERNAME", ""),
		RedisPassword:         getenv("BOOTGATE_REDIS_PASSWORD", ""),
		RedisPasswordRequired: mustBool("BOOTGATE_REDIS_PASSWORD_REQUIRED", false),
		RedisDB:               getenvInt("BOOTGATE_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),

		// Elasticsearch settings
		ESAddresses: splitAndTrim(getenv("BOOTGATE_ES_ADDRS", "")),
		ESUser:      getenv("BOOTGATE_ES_USERNAME", ""),
		ESPassword:  getenv("BOOTGATE_ES_PASSWORD", ""),
		ESTimeout:   mustDuration("BOOTGATE_ES_TIMEOUT", 10*time.Second),

		// Postgres settings
		PostgresDSN:            getenv("BOOTGATE_POSTGRES_DSN", ""),
		PostgresMaxConns:       getenvInt("BOOTGATE_POSTGRES_MAX_CONNS", 4),
		PostgresConnectTimeout: mustDuration("BOOTGATE_POSTGRES_CONNECT_TIMEOUT", 5*time.Second),

		// Metrics
		PushgatewayURL: getenv("BOOTGATE_PUSHGATEWAY_URL", ""),
		PushJob:        getenv("BOOTGATE_PUSH_JOB", "bootgate"),

		// Access restrictions
		AllowedCIDRS:    parseAllowedIPs(getenv("BOOTGATE_ALLOWED_CIDRS", "")),
		TrustProxy:      mustBool("BOOTGATE_TRUST_PROXY", false),
		RateLimitBurst:  getenvInt("BOOTGATE_RATE_LIMIT_BURST", 20),
		RateLimitPerMin: getenvInt("BOOTGATE_RATE_LIMIT_PER_MIN", 120),
		CheckTimeout:    mustDuration("BOOTGATE_CHECK_TIMEOUT", 2*time.Second),
		HealthInterval:  mustDuration("BOOTGATE_HEALTH_INTERVAL", 30*time.Second),
	}

	if cfg.DeploymentID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("BOOTGATE_DEPLOYMENT_ID is not set and hostname is unavailable: %w", err)
		}
		cfg.DeploymentID = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.RedisPasswordRequired && c.RedisPassword == "" {
		errs = append(errs, errors.New("BOOTGATE_REDIS_PASSWORD is required when BOOTGATE_REDIS_PASSWORD_REQUIRED=true"))
	}
	if strings.TrimSpace(c.DeploymentID) == "" {
		errs = append(errs, errors.New("deployment id must not be empty"))
	}
	if c.ReadinessTimeout < 0 {
		errs = append(errs, errors.New("BOOTGATE_READINESS_TIMEOUT must not be negative"))
	}
	if c.RateLimitBurst > 0 && c.RateLimitPerMin <= 0 {
		errs = append(errs, errors.New("BOOTGATE_RATE_LIMIT_PER_MIN must be positive when the limiter is enabled"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.RedisPassword != "" {
		c.RedisPassword = redacted
	}
	if c.RedisUser != "" {
		c.RedisUser = redacted
	}
	if c.ESPassword != "" {
		c.ESPassword = redacted
	}
	if c.PostgresDSN != "" {
		c.PostgresDSN = redactDSN(c.PostgresDSN)
	}
	return c
}

// redactDSN hides the password of a URL-style DSN and the whole value of a
// keyword/value DSN that carries one.
func redactDSN(dsn string) string {
	if scheme, rest, ok := strings.Cut(dsn, "://"); ok {
		if creds, host, ok := strings.Cut(rest, "@"); ok {
			user, _, _ := strings.Cut(creds, ":")
			return scheme + "://" + user + ":" + redacted + "@" + host
		}
		return dsn
	}
	if strings.Contains(dsn, "password=") {
		return redacted
	}
	return dsn
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
