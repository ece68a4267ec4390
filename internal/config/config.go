// Package config loads the reader server configuration from command-line flags,
// environment variables and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Metadata MetadataConfig
	Server   ServerConfig
	Store    StoreConfig
	Reader   ReaderConfig
	Document DocumentConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// MetadataConfig holds the data directory.
type MetadataConfig struct {
	BasePath string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        // default: 8080
	ReadTimeout    time.Duration // default: 15s
	WriteTimeout   time.Duration // default: 0, SSE streams stay open
	IdleTimeout    time.Duration // default: 60s
	AllowedOrigins []string      // CORS origins for the host UI (default: *)
}

// StoreConfig selects the progress store.
type StoreConfig struct {
	Backend string // sqlite or badger (default: sqlite)
	Path    string // default: {metadata}/reader.db or {metadata}/progress
}

// ReaderConfig holds the engine timings and limits.
type ReaderConfig struct {
	// ScrollSettleDelay is the quiet period after the last scroll event
	// before the current page is inferred (default: 150ms).
	ScrollSettleDelay time.Duration
	// ProgrammaticScrollTimeout releases programmatic ownership of the
	// current page if no scroll settle arrives (default: 1s).
	ProgrammaticScrollTimeout time.Duration
	// SmoothScrollDuration is the length of a goToPage scroll animation (default: 300ms).
	SmoothScrollDuration time.Duration
	// CommitDebounce is the quiescence window before progress is written (default: 1500ms).
	CommitDebounce time.Duration

	DefaultScale          float64 // default: 1.0
	MinScale              float64 // default: 0.25
	MaxScale              float64 // default: 5
	ZoomStep              float64 // default: 0.25
	PageGap               float64 // vertical gap between page slots (default: 10)
	DefaultViewportHeight float64 // default: 900
	MaxReaders            int     // concurrent reader instances (default: 64)
	ScrollEventsPerSecond int     // per-reader scroll event budget (default: 60)
	// RenderWindow limits background drawing to this many pages around the
	// visible ones; 0 draws every page (default: 0).
	RenderWindow int
}

// DocumentConfig holds document fetching and caching configuration.
type DocumentConfig struct {
	FetchTimeout    time.Duration // default: 30s
	MaxBytes        int64         // default: 200 MiB
	CacheTTL        time.Duration // opened documents and base rasters (default: 10m)
	RenderDPI       float64       // points to pixels at scale 1 (default: 72)
	WatchLocalFiles bool          // reload file:// documents when they change (default: true)
	// LocalRoot is the only directory local documents are served from;
	// empty disables file:// URLs and paths (default: empty).
	LocalRoot string
	// AllowPrivateHosts permits fetching from loopback, private and
	// link-local addresses (default: false).
	AllowPrivateHosts bool
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	metadataPath := flag.String("metadata-path", "", "Base path for reader data")

	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 0)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	allowedOrigins := flag.String("allowed-origins", "", "Comma separated CORS origins (default: *)")

	storeBackend := flag.String("store", "", "Progress store backend: sqlite or badger (default: sqlite)")
	storePath := flag.String("store-path", "", "Progress store path")

	settleDelay := flag.String("scroll-settle-delay", "", "Scroll settle delay (default: 150ms)")
	programmaticTimeout := flag.String("programmatic-scroll-timeout", "", "Programmatic scroll hard timeout (default: 1s)")
	commitDebounce := flag.String("commit-debounce", "", "Progress commit debounce (default: 1500ms)")
	maxReaders := flag.String("max-readers", "", "Maximum concurrent readers (default: 64)")

	fetchTimeout := flag.String("fetch-timeout", "", "Document fetch timeout (default: 30s)")
	watchFiles := flag.String("watch-files", "", "Reload local documents on change (default: true)")
	localRoot := flag.String("local-root", "", "Directory local documents may be opened from (default: disabled)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Metadata: MetadataConfig{
			BasePath: getConfigValue(*metadataPath, "METADATA_PATH", ""),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "ALLOWED_ORIGINS", "*")),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getConfigValue(*storeBackend, "STORE_BACKEND", StoreSQLite)),
			Path:    getConfigValue(*storePath, "STORE_PATH", ""),
		},
		Reader: ReaderConfig{
			DefaultScale:          getFloatConfigValue("", "READER_DEFAULT_SCALE", 1.0),
			MinScale:              getFloatConfigValue("", "READER_MIN_SCALE", 0.25),
			MaxScale:              getFloatConfigValue("", "READER_MAX_SCALE", 5),
			ZoomStep:              getFloatConfigValue("", "READER_ZOOM_STEP", 0.25),
			PageGap:               getFloatConfigValue("", "READER_PAGE_GAP", 10),
			DefaultViewportHeight: getFloatConfigValue("", "READER_VIEWPORT_HEIGHT", 900),
			MaxReaders:            getIntConfigValue(*maxReaders, "READER_MAX_READERS", 64),
			ScrollEventsPerSecond: getIntConfigValue("", "READER_SCROLL_EVENTS_PER_SECOND", 60),
			RenderWindow:          getIntConfigValue("", "READER_RENDER_WINDOW", 0),
		},
		Document: DocumentConfig{
			MaxBytes:          int64(getIntConfigValue("", "DOCUMENT_MAX_BYTES", 200<<20)),
			RenderDPI:         getFloatConfigValue("", "DOCUMENT_RENDER_DPI", 72),
			WatchLocalFiles:   getBoolConfigValue(*watchFiles, "DOCUMENT_WATCH_FILES", true),
			LocalRoot:         getConfigValue(*localRoot, "DOCUMENT_LOCAL_ROOT", ""),
			AllowPrivateHosts: getBoolConfigValue("", "DOCUMENT_ALLOW_PRIVATE_HOSTS", false),
		},
	}

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Reader.ScrollSettleDelay, *settleDelay, "READER_SCROLL_SETTLE_DELAY", "150ms"},
		{&cfg.Reader.ProgrammaticScrollTimeout, *programmaticTimeout, "READER_PROGRAMMATIC_SCROLL_TIMEOUT", "1s"},
		{&cfg.Reader.SmoothScrollDuration, "", "READER_SMOOTH_SCROLL_DURATION", "300ms"},
		{&cfg.Reader.CommitDebounce, *commitDebounce, "READER_COMMIT_DEBOUNCE", "1500ms"},
		{&cfg.Document.FetchTimeout, *fetchTimeout, "DOCUMENT_FETCH_TIMEOUT", "30s"},
		{&cfg.Document.CacheTTL, "", "DOCUMENT_CACHE_TTL", "10m"},
	}
	for _, d := range durations {
		value := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandMetadataPath(); err != nil {
		return nil, fmt.Errorf("invalid metadata path: %w", err)
	}
	if err := cfg.expandStorePath(); err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}
	if cfg.Document.LocalRoot != "" {
		root, err := expandPath(cfg.Document.LocalRoot, "")
		if err != nil {
			return nil, fmt.Errorf("invalid local root: %w", err)
		}
		cfg.Document.LocalRoot = root
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Metadata.BasePath == "" {
		return errors.New("metadata base path cannot be empty after expansion")
	}

	if c.Store.Backend != StoreSQLite && c.Store.Backend != StoreBadger {
		return fmt.Errorf("invalid store backend: %s (must be sqlite or badger)", c.Store.Backend)
	}

	return c.Reader.Validate()
}

// Validate checks the engine timings and limits.
func (r ReaderConfig) Validate() error {
	if r.ScrollSettleDelay <= 0 {
		return errors.New("scroll settle delay must be positive")
	}
	if r.ProgrammaticScrollTimeout <= r.ScrollSettleDelay {
		return fmt.Errorf("programmatic scroll timeout %s must exceed the settle delay %s",
			r.ProgrammaticScrollTimeout, r.ScrollSettleDelay)
	}
	if r.SmoothScrollDuration < 0 {
		return errors.New("smooth scroll duration cannot be negative")
	}
	if r.CommitDebounce < time.Second || r.CommitDebounce > 2*time.Second {
		return fmt.Errorf("commit debounce %s must be between 1s and 2s", r.CommitDebounce)
	}
	if r.MinScale <= 0 || r.MaxScale < r.MinScale {
		return fmt.Errorf("invalid scale range [%g, %g]", r.MinScale, r.MaxScale)
	}
	if r.DefaultScale < r.MinScale || r.DefaultScale > r.MaxScale {
		return fmt.Errorf("default scale %g outside [%g, %g]", r.DefaultScale, r.MinScale, r.MaxScale)
	}
	if r.ZoomStep <= 0 {
		return errors.New("zoom step must be positive")
	}
	if r.PageGap < 0 {
		return errors.New("page gap cannot be negative")
	}
	if r.DefaultViewportHeight <= 0 {
		return errors.New("default viewport height must be positive")
	}
	if r.MaxReaders < 1 {
		return errors.New("max readers must be at least 1")
	}
	if r.ScrollEventsPerSecond < 1 {
		return errors.New("scroll events per second must be at least 1")
	}
	if r.RenderWindow < 0 {
		return errors.New("render window cannot be negative")
	}
	return nil
}

// DefaultReaderConfig returns the engine defaults.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		ScrollSettleDelay:         150 * time.Millisecond,
		ProgrammaticScrollTimeout: time.Second,
		SmoothScrollDuration:      300 * time.Millisecond,
		CommitDebounce:            1500 * time.Millisecond,
		DefaultScale:              1.0,
		MinScale:                  0.25,
		MaxScale:                  5,
		ZoomStep:                  0.25,
		PageGap:                   10,
		DefaultViewportHeight:     900,
		MaxReaders:                64,
		ScrollEventsPerSecond:     60,
	}
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, uses defaultPath.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandMetadataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.Metadata.BasePath, filepath.Join(homeDir, "ListenUp", "reader"))
	if err != nil {
		return err
	}
	c.Metadata.BasePath = expanded
	return nil
}

// expandStorePath defaults to {metadata}/reader.db for sqlite and {metadata}/progress for badger.
func (c *Config) expandStorePath() error {
	defaultPath := filepath.Join(c.Metadata.BasePath, "reader.db")
	if c.Store.Backend == StoreBadger {
		defaultPath = filepath.Join(c.Metadata.BasePath, "progress")
	}
	expanded, err := expandPath(c.Store.Path, defaultPath)
	if err != nil {
		return err
	}
	c.Store.Path = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue accepts "true", "1", "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func splitList(value string) []string {
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
