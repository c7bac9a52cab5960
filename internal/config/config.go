package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration settings

	"github.com/joho/godotenv" // godotenv loads an optional .env file into the environment
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Settings for Redis, rate limiting and the event
// broker live in their own files next to this one.
type Config struct {
	Env      string // application environment (e.g. "dev", "prod")
	Port     string // HTTP port to listen on
	LogLevel string // zerolog level name (debug, info, warn, error)

	APIBaseURL string        // base URL of the remote REST API
	APITimeout time.Duration // per-request timeout for REST API calls

	SessionBackend          string        // redis | mysql | memory
	SessionCookieName       string        // name of the browser session cookie
	SessionCookieSecure     bool          // set the Secure attribute on the cookie
	SessionIdleTTL          time.Duration // how long an idle store stays in memory
	SessionPersistTTL       time.Duration // how long an untouched persisted record is kept
	SessionRefreshOnHydrate bool          // re-fetch the user after restoring a session

	GuardHydrationWait time.Duration // how long a page request waits for hydration

	DBUser string // database username (mysql backend)
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	EventsEnabled bool // publish session events to RabbitMQ
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when present;
// variables already set in the environment win.  Required variables are
// enforced by must() and missing values cause the program to exit with a
// fatal log message.
func Load() Config {
	_ = godotenv.Load() // a missing .env file is not an error

	cfg := Config{
		Env:      must("APP_ENV"),             // environment (dev/test/prod)
		Port:     must("APP_PORT"),            // port to bind the HTTP server
		LogLevel: envStr("LOG_LEVEL", "info"), // log verbosity

		APIBaseURL: must("API_BASE_URL"),
		APITimeout: envDur("API_TIMEOUT", 10*time.Second),

		SessionBackend:          envStr("SESSION_BACKEND", "redis"),
		SessionCookieName:       envStr("SESSION_COOKIE_NAME", "rentdesk_sid"),
		SessionCookieSecure:     envBool("SESSION_COOKIE_SECURE", false),
		SessionIdleTTL:          envDur("SESSION_IDLE_TTL", 30*time.Minute),
		SessionPersistTTL:       envDur("SESSION_PERSIST_TTL", 7*24*time.Hour),
		SessionRefreshOnHydrate: envBool("SESSION_REFRESH_ON_HYDRATE", true),

		GuardHydrationWait: envDur("GUARD_HYDRATION_WAIT", 2*time.Second),

		EventsEnabled: envBool("EVENTS_ENABLED", false),
	}

	// Database settings are only mandatory when sessions live in MySQL.
	if cfg.SessionBackend == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
