package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime knob. Everything is settable via environment so
// the engine can be tuned without a rebuild.
type Config struct {
	Port string

	MaxBatchSize   int
	DNSCacheTTL    time.Duration
	DNSTimeout     time.Duration
	DNSConcurrency int

	SMTPTimeout    time.Duration
	SMTPHeloDomain string
	SMTPMailFrom   string

	HIBPAPIKey string

	// Per-IP admission limits.
	IPRPM           int
	IPDailyLimit    int
	IPMaxConcurrent int

	// Per-agent admission limits. Agents are authenticated, so they get more
	// headroom than anonymous IPs.
	AgentRPM           int
	AgentDailyLimit    int
	AgentMaxConcurrent int

	GlobalDailyLimit int

	BounceRPM int

	// Optional externalized backends.
	RedisAddr string
	DBURL     string
}

// Load reads the environment, applying defaults for anything unset.
func Load() Config {
	return Config{
		Port: getStr("PORT", "8080"),

		MaxBatchSize:   getInt("MAX_BATCH_SIZE", 500),
		DNSCacheTTL:    getDur("DNS_CACHE_TTL", 10*time.Minute),
		DNSTimeout:     getDur("DNS_TIMEOUT", 5*time.Second),
		DNSConcurrency: getInt("DNS_CONCURRENCY", 20),

		SMTPTimeout:    getDur("SMTP_TIMEOUT", 10*time.Second),
		SMTPHeloDomain: getStr("SMTP_HELO_DOMAIN", "verifier.mailprobe.io"),
		SMTPMailFrom:   getStr("SMTP_MAIL_FROM", "probe@mailprobe.io"),

		HIBPAPIKey: os.Getenv("HIBP_API_KEY"),

		IPRPM:           getInt("IP_RPM", 10),
		IPDailyLimit:    getInt("IP_DAILY_LIMIT", 100),
		IPMaxConcurrent: getInt("IP_MAX_CONCURRENT", 2),

		AgentRPM:           getInt("AGENT_RPM", 60),
		AgentDailyLimit:    getInt("AGENT_DAILY_LIMIT", 2000),
		AgentMaxConcurrent: getInt("AGENT_MAX_CONCURRENT", 5),

		GlobalDailyLimit: getInt("GLOBAL_DAILY_LIMIT", 50000),

		BounceRPM: getInt("BOUNCE_RPM", 5),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		DBURL:     os.Getenv("DB_URL"),
	}
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
