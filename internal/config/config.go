// Package config provides configuration management for the PPTX processor service.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "pptx-processor-config.json"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvLibreOfficePath is the environment variable for the render engine binary
	EnvLibreOfficePath = "LIBREOFFICE_PATH"
	// DefaultListenAddr is the default HTTP listen address
	DefaultListenAddr = "0.0.0.0:8000"
	// DefaultWorkerCount is the default number of concurrent jobs
	DefaultWorkerCount = 2
	// DefaultSlideConcurrency is the default slide parallelism within one job
	DefaultSlideConcurrency = 4
	// DefaultJobTimeoutSec is the default wall-clock budget per job
	DefaultJobTimeoutSec = 600
	// DefaultCallTimeoutSec is the default budget per external call
	DefaultCallTimeoutSec = 120
	// DefaultMaxRetries is the default retry budget per job
	DefaultMaxRetries = 3
	// DefaultMaxUploadBytes is the default upload size limit (50 MB)
	DefaultMaxUploadBytes = 50 * 1024 * 1024
	// DefaultThumbnailWidth is the default thumbnail width in pixels
	DefaultThumbnailWidth = 250
	// DefaultModel is the default OpenAI model for translation suggestions
	DefaultModel = "gpt-4o"
	// DefaultRedisQueueName is the default Redis job list key
	DefaultRedisQueueName = "pptx_processing_queue"
)

// ConfigManager manages service configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "pptx-processor", DefaultConfigFileName)
	}

	logger.Info("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

// defaultConfig returns a Config with default values
func defaultConfig() *types.Config {
	return &types.Config{
		ListenAddr:       DefaultListenAddr,
		WorkDirectory:    filepath.Join(os.TempDir(), "pptx-processor"),
		DatabasePath:     "./data/pptx-processor.db",
		WorkerCount:      DefaultWorkerCount,
		SlideConcurrency: DefaultSlideConcurrency,
		JobTimeoutSec:    DefaultJobTimeoutSec,
		CallTimeoutSec:   DefaultCallTimeoutSec,
		MaxRetries:       DefaultMaxRetries,
		MaxUploadBytes:   DefaultMaxUploadBytes,
		QueueBackend:     "memory",
		RedisAddr:        "localhost:6379",
		RedisQueueName:   DefaultRedisQueueName,
		BlobBackend:      "local",
		BlobDirectory:    "./data/blobs",
		BlobBaseURL:      "http://localhost:8000/blobs",
		OpenAIModel:      DefaultModel,
		ThumbnailWidth:   DefaultThumbnailWidth,
		GenerateThumbs:   true,
	}
}

// Load loads configuration from the config file.
// If the file doesn't exist, it uses default values.
// Environment variables take precedence for credentials and paths when the
// file value is empty.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = defaultConfig()
		} else {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		config := &types.Config{}
		if err := json.Unmarshal(data, config); err != nil {
			logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
			m.config = defaultConfig()
		} else {
			logger.Info("configuration loaded successfully",
				logger.String("path", m.configPath),
				logger.String("listenAddr", config.ListenAddr),
				logger.String("queueBackend", config.QueueBackend),
				logger.String("blobBackend", config.BlobBackend))
			m.config = config
		}
	}

	m.applyDefaults()
	m.applyEnvironment()
	return nil
}

// applyDefaults fills zero-valued fields with their defaults.
func (m *ConfigManager) applyDefaults() {
	defaults := defaultConfig()
	if m.config.ListenAddr == "" {
		m.config.ListenAddr = defaults.ListenAddr
	}
	if m.config.WorkDirectory == "" {
		m.config.WorkDirectory = defaults.WorkDirectory
	}
	if m.config.DatabasePath == "" {
		m.config.DatabasePath = defaults.DatabasePath
	}
	if m.config.WorkerCount <= 0 {
		m.config.WorkerCount = defaults.WorkerCount
	}
	if m.config.SlideConcurrency <= 0 {
		m.config.SlideConcurrency = defaults.SlideConcurrency
	}
	if m.config.JobTimeoutSec <= 0 {
		m.config.JobTimeoutSec = defaults.JobTimeoutSec
	}
	if m.config.CallTimeoutSec <= 0 {
		m.config.CallTimeoutSec = defaults.CallTimeoutSec
	}
	if m.config.MaxRetries <= 0 {
		m.config.MaxRetries = defaults.MaxRetries
	}
	if m.config.MaxUploadBytes <= 0 {
		m.config.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if m.config.QueueBackend == "" {
		m.config.QueueBackend = defaults.QueueBackend
	}
	if m.config.RedisAddr == "" {
		m.config.RedisAddr = defaults.RedisAddr
	}
	if m.config.RedisQueueName == "" {
		m.config.RedisQueueName = defaults.RedisQueueName
	}
	if m.config.BlobBackend == "" {
		m.config.BlobBackend = defaults.BlobBackend
	}
	if m.config.BlobDirectory == "" {
		m.config.BlobDirectory = defaults.BlobDirectory
	}
	if m.config.BlobBaseURL == "" {
		m.config.BlobBaseURL = defaults.BlobBaseURL
	}
	if m.config.OpenAIModel == "" {
		m.config.OpenAIModel = defaults.OpenAIModel
	}
	if m.config.ThumbnailWidth <= 0 {
		m.config.ThumbnailWidth = defaults.ThumbnailWidth
	}
}

// applyEnvironment overlays environment variables onto empty fields.
func (m *ConfigManager) applyEnvironment() {
	if m.config.OpenAIAPIKey == "" {
		m.config.OpenAIAPIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if m.config.OpenAIBaseURL == "" {
		m.config.OpenAIBaseURL = os.Getenv(EnvOpenAIBaseURL)
	}
	if m.config.LibreOfficePath == "" {
		m.config.LibreOfficePath = os.Getenv(EnvLibreOfficePath)
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		m.config.ListenAddr = addr
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		m.config.RedisAddr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		m.config.RedisPassword = pw
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if value, err := strconv.Atoi(db); err == nil && value >= 0 {
			m.config.RedisDB = value
		}
	}
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		m.config.S3Bucket = bucket
	}
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved successfully", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return defaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
	m.applyDefaults()
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetAPIKey returns the OpenAI API key, falling back to the environment.
func (m *ConfigManager) GetAPIKey() string {
	if m.config != nil && m.config.OpenAIAPIKey != "" {
		return m.config.OpenAIAPIKey
	}
	return os.Getenv(EnvOpenAIAPIKey)
}
