package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the settings for the engine daemon.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// FFmpegPath overrides binary discovery when set.
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	// MaxConcurrentJobs caps simultaneously running transcodes. Zero means
	// derive from detected capabilities.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	// DefaultOutputDir is used when a submission omits output_dir.
	DefaultOutputDir string `mapstructure:"default_output_dir"`
	// CancelGraceSeconds is how long a cancelled transcode gets to exit
	// cleanly before being killed.
	CancelGraceSeconds int    `mapstructure:"cancel_grace_seconds"`
	LogLevel           string `mapstructure:"log_level"`
}

// Load initializes Viper and merges defaults, an optional YAML file, and
// ENGINE_* environment variables.
func Load(path string) (*Config, error) {
	viper.SetDefault("listen_addr", ":8085")
	viper.SetDefault("ffmpeg_path", "")
	viper.SetDefault("default_output_dir", "")
	viper.SetDefault("max_concurrent_jobs", 0)
	viper.SetDefault("cancel_grace_seconds", 5)
	viper.SetDefault("log_level", "info")

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		// Missing file is fine; env vars and defaults still apply.
	}

	viper.SetEnvPrefix("ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	err := viper.Unmarshal(&cfg)
	return &cfg, err
}
