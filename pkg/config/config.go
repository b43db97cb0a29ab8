package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	STT       STTConfig       `json:"stt"`
	LLM       LLMConfig       `json:"llm"`
	Acoustic  AcousticConfig  `json:"acoustic"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Messaging MessagingConfig `json:"messaging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Breaker   BreakerConfig   `json:"breaker"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port          int           `json:"port"`
	Enabled       bool          `json:"enabled"`
	EnableMetrics bool          `json:"enable_metrics"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	MaxUploadSize int64         `json:"max_upload_size"`
}

// STTConfig holds speech-to-text provider configuration
type STTConfig struct {
	DefaultProvider    string        `json:"default_provider"`
	SupportedProviders []string      `json:"supported_providers"`
	DefaultLanguage    string        `json:"default_language"`
	RequestTimeout     time.Duration `json:"request_timeout"`

	OpenAI OpenAISTTConfig `json:"openai"`
	Google GoogleSTTConfig `json:"google"`
}

// OpenAISTTConfig holds OpenAI Whisper transcription configuration
type OpenAISTTConfig struct {
	APIKey string `json:"-"`
	APIURL string `json:"api_url"`
	Model  string `json:"model"`
}

// GoogleSTTConfig holds Google Speech-to-Text configuration
type GoogleSTTConfig struct {
	Enabled         bool   `json:"enabled"`
	APIKey          string `json:"-"`
	CredentialsFile string `json:"credentials_file"`
	SampleRate      int    `json:"sample_rate"`
	Model           string `json:"model"`
}

// LLMConfig holds text-generation client configuration
type LLMConfig struct {
	APIKey      string        `json:"-"`
	APIURL      string        `json:"api_url"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Timeout     time.Duration `json:"timeout"`
}

// AcousticConfig holds acoustic feature extraction configuration
type AcousticConfig struct {
	Enabled    bool          `json:"enabled"`
	BinaryPath string        `json:"binary_path"`
	ConfigPath string        `json:"config_path"`
	FFmpegPath string        `json:"ffmpeg_path"`
	WorkDir    string        `json:"work_dir"`
	Timeout    time.Duration `json:"timeout"`
}

// PipelineConfig holds orchestration configuration
type PipelineConfig struct {
	SyncDeadline      time.Duration `json:"sync_deadline"`
	AnalysisTimeout   time.Duration `json:"analysis_timeout"`
	GenerationTimeout time.Duration `json:"generation_timeout"`
	HistoryLimit      int           `json:"history_limit"`
	UploadDir         string        `json:"upload_dir"`
	MaxBackgroundJobs int           `json:"max_background_jobs"`
}

// MessagingConfig holds AMQP persistence sink configuration
type MessagingConfig struct {
	AMQPUrl       string `json:"-"`
	AMQPQueueName string `json:"amqp_queue_name"`
}

// RateLimitConfig holds per-client HTTP rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	BlockDuration     time.Duration `json:"block_duration"`
}

// BreakerConfig holds circuit breaker configuration for the language model upstream
type BreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  logrus.Level `json:"level"`
	Format string       `json:"format"`
}

// LoadConfig loads the application configuration from environment variables
func LoadConfig(logger *logrus.Logger) (*Config, error) {
	// A missing .env file is fine; environment variables may come from elsewhere
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	config := &Config{}

	// HTTP configuration
	config.HTTP.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.HTTP.Port = getEnvInt(logger, "HTTP_PORT", 8080)
	config.HTTP.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.HTTP.ReadTimeout = getEnvDuration(logger, "HTTP_READ_TIMEOUT", 30*time.Second)
	config.HTTP.WriteTimeout = getEnvDuration(logger, "HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.HTTP.MaxUploadSize = int64(getEnvInt(logger, "HTTP_MAX_UPLOAD_SIZE", 25<<20))

	// STT configuration
	config.STT.DefaultProvider = getEnvString("STT_DEFAULT_PROVIDER", "openai")
	providersEnv := os.Getenv("STT_SUPPORTED_PROVIDERS")
	if providersEnv == "" {
		config.STT.SupportedProviders = []string{"openai"}
		logger.Info("No STT_SUPPORTED_PROVIDERS specified, defaulting to openai")
	} else {
		config.STT.SupportedProviders = strings.Split(providersEnv, ",")
	}
	config.STT.DefaultLanguage = getEnvString("STT_DEFAULT_LANGUAGE", "en")
	config.STT.RequestTimeout = getEnvDuration(logger, "STT_REQUEST_TIMEOUT", 30*time.Second)

	config.STT.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	config.STT.OpenAI.APIURL = getEnvString("OPENAI_TRANSCRIPTION_URL", "https://api.openai.com/v1/audio/transcriptions")
	config.STT.OpenAI.Model = getEnvString("OPENAI_TRANSCRIPTION_MODEL", "whisper-1")

	config.STT.Google.Enabled = getEnvBool("GOOGLE_STT_ENABLED", false)
	config.STT.Google.APIKey = os.Getenv("GOOGLE_STT_API_KEY")
	config.STT.Google.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	config.STT.Google.SampleRate = getEnvInt(logger, "GOOGLE_STT_SAMPLE_RATE", 16000)
	config.STT.Google.Model = os.Getenv("GOOGLE_STT_MODEL")

	// LLM configuration
	config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	config.LLM.APIURL = getEnvString("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions")
	config.LLM.Model = getEnvString("LLM_MODEL", "gpt-3.5-turbo")
	config.LLM.Temperature = getEnvFloat(logger, "LLM_TEMPERATURE", 0.5)
	config.LLM.MaxTokens = getEnvInt(logger, "LLM_MAX_TOKENS", 256)
	config.LLM.TopP = getEnvFloat(logger, "LLM_TOP_P", 0.8)
	config.LLM.Timeout = getEnvDuration(logger, "LLM_TIMEOUT", 30*time.Second)

	// Acoustic feature extraction configuration
	config.Acoustic.Enabled = getEnvBool("ACOUSTIC_ENABLED", false)
	config.Acoustic.BinaryPath = os.Getenv("ACOUSTIC_BINARY_PATH")
	config.Acoustic.ConfigPath = os.Getenv("ACOUSTIC_CONFIG_PATH")
	config.Acoustic.FFmpegPath = getEnvString("FFMPEG_PATH", "ffmpeg")
	config.Acoustic.WorkDir = getEnvString("ACOUSTIC_WORK_DIR", os.TempDir())
	config.Acoustic.Timeout = getEnvDuration(logger, "ACOUSTIC_TIMEOUT", 30*time.Second)

	// Pipeline configuration
	config.Pipeline.SyncDeadline = getEnvDuration(logger, "PIPELINE_SYNC_DEADLINE", 7*time.Second)
	config.Pipeline.AnalysisTimeout = getEnvDuration(logger, "PIPELINE_ANALYSIS_TIMEOUT", 7*time.Second)
	config.Pipeline.GenerationTimeout = getEnvDuration(logger, "PIPELINE_GENERATION_TIMEOUT", 7*time.Second)
	config.Pipeline.HistoryLimit = getEnvInt(logger, "PIPELINE_HISTORY_LIMIT", 50)
	config.Pipeline.UploadDir = getEnvString("PIPELINE_UPLOAD_DIR", "./uploads")
	config.Pipeline.MaxBackgroundJobs = getEnvInt(logger, "PIPELINE_MAX_BACKGROUND_JOBS", 50)

	// Messaging configuration
	config.Messaging.AMQPUrl = os.Getenv("AMQP_URL")
	config.Messaging.AMQPQueueName = getEnvString("AMQP_QUEUE_NAME", "conversation_turns")

	// Rate limiting configuration
	config.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", false)
	config.RateLimit.RequestsPerSecond = getEnvFloat(logger, "RATE_LIMIT_RPS", 5)
	config.RateLimit.Burst = getEnvInt(logger, "RATE_LIMIT_BURST", 10)
	config.RateLimit.BlockDuration = getEnvDuration(logger, "RATE_LIMIT_BLOCK_DURATION", time.Minute)

	// Circuit breaker configuration
	config.Breaker.Enabled = getEnvBool("LLM_BREAKER_ENABLED", true)
	config.Breaker.FailureThreshold = getEnvInt(logger, "LLM_BREAKER_FAILURE_THRESHOLD", 5)
	config.Breaker.ResetTimeout = getEnvDuration(logger, "LLM_BREAKER_RESET_TIMEOUT", 30*time.Second)

	// Logging configuration
	logLevelStr := getEnvString("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		logger.WithField("log_level", logLevelStr).Warn("Invalid LOG_LEVEL, defaulting to info")
		level = logrus.InfoLevel
	}
	config.Logging.Level = level
	config.Logging.Format = getEnvString("LOG_FORMAT", "text")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration invariants that would otherwise surface at runtime
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Pipeline.SyncDeadline <= 0 {
		return fmt.Errorf("pipeline sync deadline must be positive, got %s", c.Pipeline.SyncDeadline)
	}
	if c.Pipeline.HistoryLimit <= 0 {
		return fmt.Errorf("pipeline history limit must be positive, got %d", c.Pipeline.HistoryLimit)
	}
	if c.Acoustic.Enabled && c.Acoustic.BinaryPath == "" {
		return fmt.Errorf("ACOUSTIC_BINARY_PATH must be set when acoustic analysis is enabled")
	}
	if c.Acoustic.Enabled && c.Acoustic.ConfigPath == "" {
		return fmt.Errorf("ACOUSTIC_CONFIG_PATH must be set when acoustic analysis is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests per second must be positive, got %f", c.RateLimit.RequestsPerSecond)
	}
	return nil
}

func getEnvString(key, fallback string) string {
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
	return v == "true" || v == "1"
}

func getEnvInt(logger *logrus.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid integer value, using default")
		return fallback
	}
	return n
}

func getEnvFloat(logger *logrus.Logger, key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid float value, using default")
		return fallback
	}
	return f
}

func getEnvDuration(logger *logrus.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid duration value, using default")
		return fallback
	}
	return d
}
