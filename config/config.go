package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Browser session pool
	MaxConcurrency        int
	FetchMode             string
	Headless              bool
	ChromeBin             string
	NavigationTimeout     time.Duration
	CaptureDelay          time.Duration
	PoolWaitTimeout       time.Duration
	PoolExhaustionCeiling int
	WarmSessions          int

	// Crawl orchestration
	RateLimitMs                int
	MaxRetries                 int
	RetryBaseDelay             time.Duration
	RetryMaxDelay              time.Duration
	PagesToScrape              int
	ListingsPerPage            int
	PipelineDepth              int
	MaxConsecutivePageFailures int

	// Geocoding
	GeocodeRPS          float64
	GeocodeBurst        int
	GeocodeConcurrency  int
	GeocodeMaxRetries   int
	GeocodeTimeout      time.Duration
	ResolutionTimeout   time.Duration
	GeocoderUserAgent   string
	NominatimURL        string
	GoogleGeocodeAPIKey string

	// Storage
	CacheBackend  string
	BadgerPath    string
	CSVOutputPath string
	WritePostgres bool

	RegionsFile string
	HTTPAddr    string
	LogLevel    string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "listings_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency:        getEnvInt("MAX_CONCURRENCY", 3),
		FetchMode:             strings.ToLower(getEnv("FETCH_MODE", "browser")),
		Headless:              getEnvBool("HEADLESS", true),
		ChromeBin:             getEnv("CHROME_BIN", ""),
		NavigationTimeout:     getEnvDuration("NAVIGATION_TIMEOUT", 90*time.Second),
		CaptureDelay:          getEnvDuration("CAPTURE_DELAY", 6*time.Second),
		PoolWaitTimeout:       getEnvDuration("POOL_WAIT_TIMEOUT", 2*time.Minute),
		PoolExhaustionCeiling: getEnvInt("POOL_EXHAUSTION_CEILING", 3),
		WarmSessions:          getEnvInt("WARM_SESSIONS", 0),

		RateLimitMs:                getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:                 getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:             getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:              getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		PagesToScrape:              getEnvInt("PAGES_TO_SCRAPE", 5),
		ListingsPerPage:            getEnvInt("LISTINGS_PER_PAGE", 18),
		PipelineDepth:              getEnvInt("PIPELINE_DEPTH", 2),
		MaxConsecutivePageFailures: getEnvInt("MAX_CONSECUTIVE_PAGE_FAILURES", 2),

		GeocodeRPS:          getEnvFloat("GEOCODE_RPS", 1),
		GeocodeBurst:        getEnvInt("GEOCODE_BURST", 1),
		GeocodeConcurrency:  getEnvInt("GEOCODE_CONCURRENCY", 8),
		GeocodeMaxRetries:   getEnvInt("GEOCODE_MAX_RETRIES", 3),
		GeocodeTimeout:      getEnvDuration("GEOCODE_TIMEOUT", 10*time.Second),
		ResolutionTimeout:   getEnvDuration("RESOLUTION_TIMEOUT", 5*time.Minute),
		GeocoderUserAgent:   getEnv("GEOCODER_USER_AGENT", "listing-geocoder/1.0"),
		NominatimURL:        getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		GoogleGeocodeAPIKey: getEnv("GOOGLE_GEOCODE_API_KEY", ""),

		CacheBackend:  strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		BadgerPath:    getEnv("BADGER_PATH", "./data/coordinates"),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/geocoded_listings.csv"),
		WritePostgres: getEnvBool("WRITE_POSTGRES", false),

		RegionsFile: getEnv("REGIONS_FILE", ""),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// PageInterval is the minimum spacing between two page navigations.
func (c *Config) PageInterval() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
