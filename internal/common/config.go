package common

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Bot     BotConfig
	Storage StorageConfig
	RAT     RATConfig
	Extract ExtractConfig
	Render  RenderConfig
	Server  ServerConfig
}

// BotConfig holds chat transport configuration
type BotConfig struct {
	Token           string
	APIBaseURL      string
	AdminID         int64
	PrivilegedIDs   map[int64]struct{}
	PollTimeout     time.Duration
	DispatchWorkers int
}

// StorageConfig holds on-disk state locations
type StorageConfig struct {
	DataDir           string
	ParseCacheEnabled bool
	ParseCacheDir     string
	StatusCacheDSN    string
}

// RATConfig holds status lookup configuration
type RATConfig struct {
	URL         string
	Timeout     time.Duration
	Grace       time.Duration
	StepTimeout time.Duration
	Concurrency int
	Headless    bool
	BrowserBin  string
}

// ExtractConfig holds document extraction configuration
type ExtractConfig struct {
	Pdftotext   string
	TableCmd    string
	IssuerMatch string
}

// RenderConfig holds minuta rendering configuration
type RenderConfig struct {
	TemplatePath       string
	Soffice            string
	MergeDANFEs        bool
	LabelCopiesPerItem int
	// Timeout bounds status resolution plus rendering of one batch
	Timeout time.Duration
}

// ServerConfig holds the health endpoint configuration
type ServerConfig struct {
	HealthAddr string
	LogLevel   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	dataDir := getEnv("OUTPUT_DIR", "./data")
	return &Config{
		Bot: BotConfig{
			Token:           getEnv("BOT_TOKEN", ""),
			APIBaseURL:      getEnv("BOT_API_URL", "https://api.telegram.org"),
			AdminID:         getEnvAsInt64("ADMIN_TELEGRAM_ID", 0),
			PrivilegedIDs:   getEnvAsIDSet("PRINT_ADMIN_CHAT_IDS"),
			PollTimeout:     getEnvAsDuration("BOT_POLL_TIMEOUT", 30*time.Second),
			DispatchWorkers: getEnvAsInt("DISPATCH_WORKERS", 8),
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			ParseCacheEnabled: getEnvAsBool("PARSE_CACHE_ENABLED", true),
			ParseCacheDir:     getEnv("PARSE_CACHE_DIR", filepath.Join(dataDir, "cache", "parse")),
			StatusCacheDSN:    getEnv("STATUS_CACHE_DSN", ""),
		},
		RAT: RATConfig{
			URL:         getEnv("RAT_URL", "https://servicos.ncratleos.com/consulta_ocorrencia/start.swe"),
			Timeout:     getEnvAsSeconds("RAT_FLOW_TIMEOUT", 90*time.Second),
			Grace:       getEnvAsSeconds("RAT_GRACE", 10*time.Second),
			StepTimeout: getEnvAsSeconds("RAT_STEP_TIMEOUT", 25*time.Second),
			Concurrency: getEnvAsInt("RAT_CONCURRENCY", 2),
			Headless:    getEnvAsBool("RAT_HEADLESS", true),
			BrowserBin:  getEnv("RAT_BROWSER_BIN", ""),
		},
		Extract: ExtractConfig{
			Pdftotext:   getEnv("PDFTOTEXT_BIN", "pdftotext"),
			TableCmd:    getEnv("TABLE_EXTRACTOR_CMD", ""),
			IssuerMatch: getEnv("DANFE_ISSUER", "NCR BRASIL LTDA"),
		},
		Render: RenderConfig{
			TemplatePath:       getEnv("TEMPLATE_PATH", "./templates/template.xlsx"),
			Soffice:            getEnv("SOFFICE_BIN", "soffice"),
			MergeDANFEs:        getEnvAsBool("MERGE_DANFES_WITH_MINUTA", false),
			LabelCopiesPerItem: getEnvAsInt("LABEL_COPIES_PER_ITEM", 1),
			Timeout:            getEnvAsSeconds("RENDER_TIMEOUT", 30*time.Minute),
		},
		Server: ServerConfig{
			HealthAddr: getEnv("HEALTH_ADDR", ""),
			LogLevel:   getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(strings.SplitN(value, "#", 2)[0])
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvAsSeconds accepts either a Go duration ("90s") or a bare number of seconds ("90").
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsIDSet(key string) map[int64]struct{} {
	out := map[int64]struct{}{}
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			out[id] = struct{}{}
		}
	}
	return out
}

// IsPrivileged reports whether the chat identity is offered print/label decisions.
func (c *Config) IsPrivileged(chatID int64) bool {
	if c.Bot.AdminID != 0 && chatID == c.Bot.AdminID {
		return true
	}
	_, ok := c.Bot.PrivilegedIDs[chatID]
	return ok
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return NewAppError("CONFIG_ERROR", "BOT_TOKEN is required", ErrInvalidInput)
	}
	if c.RAT.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "RAT_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.RAT.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "RAT_FLOW_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.Storage.DataDir == "" {
		return NewAppError("CONFIG_ERROR", "OUTPUT_DIR is required", ErrInvalidInput)
	}
	return nil
}
