package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxUploadSize = 25 * 1000 * 1000
	defaultTypingTTL     = 10 * time.Second
)

const (
	StorageSupabase   = "supabase"
	StorageCloudinary = "cloudinary"
	StorageNone       = "none"
)

type Config struct {
	Port               string
	DBUrl              string
	DBMaxConns         int32
	JWTSecret          string
	AppEnv             string
	StorageDriver      string
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
	CloudinaryURL      string
	MaxUploadSize      int64
	TypingTTL          time.Duration
	TypingRate         float64
	TypingBurst        int
	AllowedOrigins     string

	DefaultUserName     string
	DefaultUserEmail    string
	DefaultUserPassword string
	SecondUserName      string
	SecondUserEmail     string
	SecondUserPassword  string
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Environment
// variables take precedence over anything set here.
type fileConfig struct {
	Port     string `yaml:"port"`
	AppEnv   string `yaml:"app_env"`
	Database struct {
		URL      string `yaml:"url"`
		MaxConns string `yaml:"max_conns"`
	} `yaml:"database"`
	Storage struct {
		Driver             string `yaml:"driver"`
		MaxUploadSize      string `yaml:"max_upload_size"`
		SupabaseURL        string `yaml:"supabase_url"`
		SupabaseBucket     string `yaml:"supabase_bucket"`
		SupabaseServiceKey string `yaml:"supabase_service_key"`
		CloudinaryURL      string `yaml:"cloudinary_url"`
	} `yaml:"storage"`
	Realtime struct {
		TypingTTL   string `yaml:"typing_ttl"`
		TypingRate  string `yaml:"typing_rate"`
		TypingBurst string `yaml:"typing_burst"`
	} `yaml:"realtime"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		loaded, err := loadConfigFile(path)
		if err != nil {
			return nil, err
		}
		file = *loaded
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	maxUploadSize, err := parseSize(getEnv("MAX_UPLOAD_SIZE", file.Storage.MaxUploadSize), defaultMaxUploadSize)
	if err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	typingTTL, err := parseDuration(getEnv("TYPING_TTL", file.Realtime.TypingTTL), defaultTypingTTL)
	if err != nil {
		return nil, fmt.Errorf("TYPING_TTL: %w", err)
	}

	cfg := &Config{
		Port:               getEnv("PORT", orDefault(file.Port, "8080")),
		DBUrl:              getEnv("DB_URL", file.Database.URL),
		DBMaxConns:         int32(getEnvInt("DB_MAX_CONNS", atoiOr(file.Database.MaxConns, 10))),
		JWTSecret:          jwtSecret,
		AppEnv:             normalizeEnv(getEnv("APP_ENV", orDefault(file.AppEnv, "production"))),
		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", file.Storage.Driver)),
		SupabaseURL:        getEnv("SUPABASE_URL", file.Storage.SupabaseURL),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", file.Storage.SupabaseBucket),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", file.Storage.SupabaseServiceKey),
		CloudinaryURL:      getEnv("CLOUDINARY_URL", file.Storage.CloudinaryURL),
		MaxUploadSize:      maxUploadSize,
		TypingTTL:          typingTTL,
		TypingRate:         getEnvFloat("TYPING_RATE", floatOr(file.Realtime.TypingRate, 2)),
		TypingBurst:        getEnvInt("TYPING_BURST", atoiOr(file.Realtime.TypingBurst, 4)),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", orDefault(file.AllowedOrigins, "*")),

		DefaultUserName:     getEnv("DEFAULT_USER_NAME", "Demo Student"),
		DefaultUserEmail:    getEnv("DEFAULT_USER_EMAIL", ""),
		DefaultUserPassword: getEnv("DEFAULT_USER_PASSWORD", ""),
		SecondUserName:      getEnv("SECOND_USER_NAME", "Demo Classmate"),
		SecondUserEmail:     getEnv("SECOND_USER_EMAIL", ""),
		SecondUserPassword:  getEnv("SECOND_USER_PASSWORD", ""),
	}

	if cfg.StorageDriver == "" {
		cfg.StorageDriver = detectStorageDriver(cfg)
	}

	return cfg, nil
}

func loadConfigFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

func detectStorageDriver(cfg *Config) string {
	switch {
	case cfg.SupabaseURL != "" && cfg.SupabaseBucket != "" && cfg.SupabaseServiceKey != "":
		return StorageSupabase
	case cfg.CloudinaryURL != "":
		return StorageCloudinary
	default:
		return StorageNone
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	return atoiOr(os.Getenv(key), fallback)
}

func getEnvFloat(key string, fallback float64) float64 {
	return floatOr(os.Getenv(key), fallback)
}

func atoiOr(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func floatOr(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// parseSize accepts humanized sizes ("25MB", "512 KiB") or plain byte counts.
func parseSize(value string, fallback int64) (int64, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}

// parseDuration accepts Go durations ("10s") or a number of seconds.
func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

// IsDevelopment relaxes request logging and error detail.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

// DebugLogging reports whether per-event realtime logging is on.
func (c *Config) DebugLogging() bool {
	return c.IsDevelopment() || getEnvBool("DEBUG_LOGGING", false)
}
