// Package config loads process-wide settings from environment variables.
// Configuration is read once at startup and treated as immutable for the
// duration of any single operation — components read the struct fields
// directly rather than re-querying the environment per call.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting the federation engine and its fronting
// proxy need. Field names mirror the keys of the external interfaces table.
type Config struct {
	Domain                 string        // DOMAIN — authoritative instance hostname
	HTTPS                  bool          // HTTPS — scheme of generated URIs
	AutoAcceptFollows      bool          // AUTO_ACCEPT_FOLLOWS — inbox Follow => synthesize Accept
	MaxDeliveryAttempts    int           // MAX_DELIVERY_ATTEMPTS — retries before Expired
	DeliveryTimeout        time.Duration // DELIVERY_TIMEOUT_SECONDS — advisory for the delivery worker
	UserAgent              string        // USER_AGENT — advisory for the delivery worker
	SignatureClockSkew     time.Duration // SIGNATURE_CLOCK_SKEW_SECONDS — freshness window for Date header
	DomainBlockMatchSuffix bool          // DOMAIN_BLOCK_MATCH_SUFFIX — open question: subdomain-prefix block matching

	DatabaseURL       string // DATABASE_URL — "postgres://...", "sqlite://path", or a bare file path (sqlite)
	RSAPrivateKeyPath string // RSA_PRIVATE_KEY_PATH — service actor key material
	RSAPublicKeyPath  string

	ListenAddr       string        // LISTEN_ADDR — proxy bind address
	WebAdminPassword string        // WEB_ADMIN_PASSWORD — enables the admin surface when set
	CronSchedule     string        // MAINTENANCE_CRON — cron expression for cleanup/refresh jobs
	CollectionPage   int           // COLLECTION_PAGE_SIZE — outbox/followers/following page size
	ActorCacheTTL    time.Duration // ACTOR_CACHE_TTL_SECONDS — TTL for the in-memory remote-actor cache
}

// Load reads configuration from the environment, exiting the process if a
// required variable is missing.
func Load() *Config {
	domain := os.Getenv("DOMAIN")
	if domain == "" {
		fmt.Fprintln(os.Stderr, "ERROR: DOMAIN is not set!")
		fmt.Fprintln(os.Stderr, "Set it to the authoritative hostname this instance federates under.")
		os.Exit(1)
	}

	return &Config{
		Domain:                 domain,
		HTTPS:                  getEnvBool("HTTPS", true),
		AutoAcceptFollows:      getEnvBool("AUTO_ACCEPT_FOLLOWS", true),
		MaxDeliveryAttempts:    getEnvInt("MAX_DELIVERY_ATTEMPTS", 8),
		DeliveryTimeout:        time.Duration(getEnvInt("DELIVERY_TIMEOUT_SECONDS", 30)) * time.Second,
		UserAgent:              getEnv("USER_AGENT", "fedid/1.0"),
		SignatureClockSkew:     time.Duration(getEnvInt("SIGNATURE_CLOCK_SKEW_SECONDS", 300)) * time.Second,
		DomainBlockMatchSuffix: getEnvBool("DOMAIN_BLOCK_MATCH_SUFFIX", false),

		DatabaseURL:       getEnv("DATABASE_URL", "fedid.db"),
		RSAPrivateKeyPath: getEnv("RSA_PRIVATE_KEY_PATH", "private.pem"),
		RSAPublicKeyPath:  getEnv("RSA_PUBLIC_KEY_PATH", "public.pem"),

		ListenAddr:       getEnv("LISTEN_ADDR", ":8000"),
		WebAdminPassword: os.Getenv("WEB_ADMIN_PASSWORD"),
		CronSchedule:     getEnv("MAINTENANCE_CRON", "@every 15m"),
		CollectionPage:   getEnvInt("COLLECTION_PAGE_SIZE", 20),
		ActorCacheTTL:    time.Duration(getEnvInt("ACTOR_CACHE_TTL_SECONDS", 3600)) * time.Second,
	}
}

// Scheme returns "https" or "http" per the HTTPS flag.
func (c *Config) Scheme() string {
	if c.HTTPS {
		return "https"
	}
	return "http"
}

// BaseURL constructs an absolute URL from a path under this instance's domain.
func (c *Config) BaseURL(path string) string {
	return c.Scheme() + "://" + c.Domain + path
}

// URL returns the instance base URL as a *url.URL.
func (c *Config) URL() *url.URL {
	u, _ := url.Parse(c.BaseURL(""))
	return u
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.ToLower(v) == "true" || v == "1"
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
