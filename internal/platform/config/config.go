package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRefreshToken string
	SpotifyRedirectURL  string
	SpotifyAPIURL       string
	SpotifyMaxRetries   int
	SpotifyRetryBackoff time.Duration

	PollInterval     time.Duration
	PollFailureDelay time.Duration

	TickInterval        time.Duration
	BarConfidence       float64
	BrightnessMin       int
	BrightnessMax       int
	LoudnessClipSigma   float64
	MergeMinDuration    time.Duration
	MergeRecursive      bool
	BusCapacity         int
	DeviceTimeout       time.Duration
	StaleAfter          time.Duration
	RegressionTolerance time.Duration

	PrefetchWorkers int
	PrefetchQueue   int

	DBPath          string
	HTTPAddr        string
	DevicesFile     string
	DiscoverTimeout time.Duration

	LogLevel string
	LogFile  string
}

// ErrMissingCredentials is returned by RequireSpotify.
var ErrMissingCredentials = errors.New("config: missing spotify credentials")

// Load reads envFile (if it exists) into the environment and builds a Config.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	return &Config{
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		SpotifyRefreshToken: os.Getenv("SPOTIFY_REFRESH_TOKEN"),
		SpotifyRedirectURL:  GetEnv("SPOTIFY_REDIRECT_URL", "http://localhost:8000/callback"),
		SpotifyAPIURL:       GetEnv("SPOTIFY_API_URL", "https://api.spotify.com/v1"),
		SpotifyMaxRetries:   GetEnvInt("SPOTIFY_MAX_RETRIES", 3),
		SpotifyRetryBackoff: GetEnvDuration("SPOTIFY_RETRY_BACKOFF_MS", 500*time.Millisecond),

		PollInterval:     GetEnvDuration("POLL_INTERVAL_MS", time.Second),
		PollFailureDelay: GetEnvDuration("POLL_FAILURE_DELAY_MS", time.Second),

		TickInterval:        GetEnvDuration("TICK_INTERVAL_MS", 20*time.Millisecond),
		BarConfidence:       GetEnvFloat("BAR_CONFIDENCE", 0.6),
		BrightnessMin:       GetEnvInt("BRIGHTNESS_MIN", 0),
		BrightnessMax:       GetEnvInt("BRIGHTNESS_MAX", 50),
		LoudnessClipSigma:   GetEnvFloat("LOUDNESS_CLIP_SIGMA", 2),
		MergeMinDuration:    GetEnvDuration("MERGE_MIN_DURATION_MS", 200*time.Millisecond),
		MergeRecursive:      GetEnvBool("MERGE_RECURSIVE", false),
		BusCapacity:         GetEnvInt("BUS_CAPACITY", 1),
		DeviceTimeout:       GetEnvDuration("DEVICE_TIMEOUT_MS", 1500*time.Millisecond),
		StaleAfter:          GetEnvDuration("STALE_AFTER_MS", 15*time.Second),
		RegressionTolerance: GetEnvDuration("REGRESSION_TOLERANCE_MS", 1500*time.Millisecond),

		PrefetchWorkers: GetEnvInt("PREFETCH_WORKERS", 2),
		PrefetchQueue:   GetEnvInt("PREFETCH_QUEUE", 16),

		DBPath:          GetEnv("DB_PATH", "pulselight.db"),
		HTTPAddr:        GetEnv("HTTP_ADDR", ":8080"),
		DevicesFile:     GetEnv("DEVICES_FILE", "devices.yaml"),
		DiscoverTimeout: GetEnvDuration("DISCOVER_TIMEOUT_MS", 3*time.Second),

		LogLevel: GetEnv("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
	}, nil
}

// RequireSpotify checks the credentials needed to poll Spotify.
func (c *Config) RequireSpotify() error {
	var missing []string
	if c.SpotifyClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}
	if c.SpotifyClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}
	if c.SpotifyRefreshToken == "" {
		missing = append(missing, "SPOTIFY_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floats.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvBool accepts anything strconv.ParseBool does.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration reads a duration. Plain integers are milliseconds; Go
// duration strings ("1.5s") are accepted too.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}
