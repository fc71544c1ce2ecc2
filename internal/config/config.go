package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Registry backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	RegistryBackend string // "redis" | "memory"
	PageSize        int    // page size of type queries (init snapshot, REST api)

	// Validation
	ProbeTimeout  time.Duration // timeout of each health/schema/docs GET
	ProbeCacheTTL time.Duration // how long a successful probe is remembered (0 = probe on every registration)

	// Websocket transport
	WSSendBuffer int     // outbound frames queued per connection
	WSRate       float64 // inbound messages per second per connection
	WSBurst      int     // inbound burst per connection

	// Self announcement
	AnnounceFile     string        // optional yaml describing this registry
	AnnounceInterval time.Duration // re-announce period (ex: 2m)
	PublicEndpoint   string        // endpoint other services reach this registry on

	// Stale reaper
	ReapInterval  time.Duration // how often offline descriptors are checked
	ReapThreshold time.Duration // how long a descriptor may stay offline

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	APIRate      int      // REST api requests per minute per IP
	APIBurst     int      // REST api burst per IP
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("DISCOVERY_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("DISCOVERY_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("DISCOVERY_LOG_LEVEL", "info"),
		PrettyLog: mustBool("DISCOVERY_PRETTY_LOG", true),

		// Registry
		RegistryBackend: strings.ToLower(getenv("DISCOVERY_REGISTRY_BACKEND", BackendRedis)),
		PageSize:        getenvInt("DISCOVERY_PAGE_SIZE", 50),

		// Validation
		ProbeTimeout:  mustDuration("DISCOVERY_PROBE_TIMEOUT", 2*time.Second),
		ProbeCacheTTL: mustDuration("DISCOVERY_PROBE_CACHE_TTL", 0),

		// Websocket
		WSSendBuffer: getenvInt("DISCOVERY_WS_SEND_BUFFER", 64),
		WSRate:       getenvFloat("DISCOVERY_WS_RATE", 20),
		WSBurst:      getenvInt("DISCOVERY_WS_BURST", 40),

		// Self announcement
		AnnounceFile:     getenv("DISCOVERY_ANNOUNCE_FILE", ""),
		AnnounceInterval: mustDuration("DISCOVERY_ANNOUNCE_INTERVAL", 2*time.Minute),
		PublicEndpoint:   getenv("DISCOVERY_PUBLIC_ENDPOINT", "http://localhost:8080"),

		// Reaper
		ReapInterval:  mustDuration("DISCOVERY_REAP_INTERVAL", time.Minute),
		ReapThreshold: mustDuration("DISCOVERY_REAP_THRESHOLD", 10*time.Minute),

		// Redis settings
		RedisUser:             getenv("DISCOVERY_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("DISCOVERY_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("DISCOVERY_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("DISCOVERY_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("DISCOVERY_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("DISCOVERY_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("DISCOVERY_TRUST_PROXY", false),
		APIRate:      getenvInt("DISCOVERY_API_RATE", 10),
		APIBurst:     getenvInt("DISCOVERY_API_BURST", 30),
	}

	switch cfg.RegistryBackend {
	case BackendRedis:
		cfg.RedisAddr = requireEnv("DISCOVERY_REDIS_ADDR")
	case BackendMemory:
	default:
		panic(fmt.Sprintf("❌ FATAL: unknown DISCOVERY_REGISTRY_BACKEND %q (want redis or memory)", cfg.RegistryBackend))
	}

	// Validate Redis password configuration
	if cfg.RegistryBackend == BackendRedis && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: DISCOVERY_REDIS_PASSWORD is required when DISCOVERY_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.RedisPassword != "" {
		cp.RedisPassword = "***REDACTED***"
	}
	if cp.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
