package config

import (
	logger "github.com/Bparsons0904/goLogger"
	"github.com/spf13/viper"
)

type Config struct {
	GeneralVersion      string `mapstructure:"GENERAL_VERSION"`
	Environment         string `mapstructure:"ENVIRONMENT"`
	ServerPort          int    `mapstructure:"SERVER_PORT"`
	CorsAllowOrigins    string `mapstructure:"CORS_ALLOW_ORIGINS"`
	DownloadDir         string `mapstructure:"DOWNLOAD_DIR"`
	YtdlpPath           string `mapstructure:"YTDLP_PATH"`
	FfmpegPath          string `mapstructure:"FFMPEG_PATH"`
	FfprobePath         string `mapstructure:"FFPROBE_PATH"`
	CookiesFile         string `mapstructure:"COOKIES_FILE"`
	StorageUploadURL    string `mapstructure:"STORAGE_UPLOAD_URL"`
	StoragePageURL      string `mapstructure:"STORAGE_PAGE_URL"`
	StorageAPIKey       string `mapstructure:"STORAGE_API_KEY"`
	JobRetentionMinutes int    `mapstructure:"JOB_RETENTION_MINUTES"`
	TempMaxAgeHours     int    `mapstructure:"TEMP_MAX_AGE_HOURS"`
	CleanupEnabled      bool   `mapstructure:"CLEANUP_ENABLED"`
}

var ConfigInstance Config

func New() (Config, error) {
	log := logger.New("config").Function("New")
	log.Info("Initializing config")

	// Enable automatic environment variable reading first
	viper.AutomaticEnv()

	// Bind environment variables to config keys
	envVars := []string{
		"GENERAL_VERSION", "ENVIRONMENT", "SERVER_PORT", "CORS_ALLOW_ORIGINS",
		"DOWNLOAD_DIR", "YTDLP_PATH", "FFMPEG_PATH", "FFPROBE_PATH", "COOKIES_FILE",
		"STORAGE_UPLOAD_URL", "STORAGE_PAGE_URL", "STORAGE_API_KEY",
		"JOB_RETENTION_MINUTES", "TEMP_MAX_AGE_HOURS", "CLEANUP_ENABLED",
	}

	for _, env := range envVars {
		if err := viper.BindEnv(env); err != nil {
			log.Warn("Failed to bind environment variable", "env", env, "error", err)
		}
	}

	// Check if key environment variables are already set
	envVarsSet := viper.IsSet("SERVER_PORT") && viper.IsSet("DOWNLOAD_DIR")

	if envVarsSet {
		log.Info("Environment variables detected, skipping file loading")
	} else {
		log.Info("Environment variables not found, attempting to load from files")

		// Load base .env file
		viper.SetConfigFile(".env")
		viper.SetConfigType("env")

		if err := viper.ReadInConfig(); err != nil {
			log.Warn("Could not find .env file", "error", err)
		} else {
			log.Info("Loaded .env file")
		}

		// Load .env.local overrides if it exists
		viper.SetConfigFile(".env.local")
		if err := viper.MergeInConfig(); err != nil {
			log.Debug("No .env.local file found", "error", err)
		} else {
			log.Info("Loaded .env.local overrides")
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, log.Err("Fatal error: could not unmarshal config", err)
	}

	applyDefaults(&config)

	log.Info("Successfully initialized config", "config", config)
	err := validateConfig(config, log)
	if err != nil {
		return Config{}, err
	}
	return ConfigInstance, nil
}

func GetConfig() Config {
	return ConfigInstance
}

func applyDefaults(config *Config) {
	if config.ServerPort == 0 {
		config.ServerPort = 8288
	}
	if config.DownloadDir == "" {
		config.DownloadDir = "downloads"
	}
	if config.YtdlpPath == "" {
		config.YtdlpPath = "yt-dlp"
	}
	if config.FfmpegPath == "" {
		config.FfmpegPath = "ffmpeg"
	}
	if config.FfprobePath == "" {
		config.FfprobePath = "ffprobe"
	}
	if config.StorageUploadURL == "" {
		config.StorageUploadURL = "https://pixeldrain.com/api/file"
	}
	if config.StoragePageURL == "" {
		config.StoragePageURL = "https://pixeldrain.com/u"
	}
	if config.JobRetentionMinutes == 0 {
		config.JobRetentionMinutes = 30
	}
	if config.TempMaxAgeHours == 0 {
		config.TempMaxAgeHours = 6
	}
	if !viper.IsSet("CLEANUP_ENABLED") {
		config.CleanupEnabled = true
	}
}

func validateConfig(config Config, log logger.Logger) error {
	if config.ServerPort <= 0 {
		return log.Error(
			"Fatal error: invalid server port",
			"port", config.ServerPort,
		)
	}

	if config.StorageAPIKey == "" {
		log.Warn("STORAGE_API_KEY is not set, uploads will be anonymous")
	}
	if config.CookiesFile != "" {
		log.Info("Using cookies file for downloads", "path", config.CookiesFile)
	}

	ConfigInstance = config
	return nil
}
