package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds server configuration.
type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Upload  UploadConfig
	History HistoryConfig
	Sentry  SentryConfig
}

// ServerConfig holds listener and throttling settings.
type ServerConfig struct {
	Port      string
	RateLimit float64 // requests per second, 0 disables
	RateBurst int
}

// ModelConfig points at the exported model files.
type ModelConfig struct {
	Dir               string
	ONNXFile          string
	MetadataFile      string
	SharedLibraryPath string
	Interpolation     string
	FilenameLookup    bool
	CacheSize         int
	Seed              uint64
}

// UploadConfig holds settings for the canned upload endpoint.
type UploadConfig struct {
	MaxBytes        int64
	ProcessingDelay time.Duration
	AudioURL        string
}

type HistoryConfig struct {
	Path  string
	Limit int
}

type SentryConfig struct {
	DSN         string
	Environment string
}

func (m ModelConfig) ONNXPath() string     { return filepath.Join(m.Dir, m.ONNXFile) }
func (m ModelConfig) MetadataPath() string { return filepath.Join(m.Dir, m.MetadataFile) }

// TFJSDir is where the browser model description (model.json) lives.
func (m ModelConfig) TFJSDir() string { return filepath.Join(m.Dir, "tfjs_model") }

// Load reads configuration from defaults, an optional TOML file and env.
// Env var overrides use prefix SIGNAPI_; PORT is honoured on its own.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if cfgPath := os.Getenv("SIGNAPI_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("signapi")
	}

	v.SetEnvPrefix("SIGNAPI")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ratelimit", 20.0)
	v.SetDefault("server.rateburst", 40)

	v.SetDefault("model.dir", "models")
	v.SetDefault("model.onnxfile", "model.onnx")
	v.SetDefault("model.metadatafile", "model_metadata.json")
	v.SetDefault("model.sharedlibrarypath", "")
	v.SetDefault("model.interpolation", "nearest")
	v.SetDefault("model.filenamelookup", false)
	v.SetDefault("model.cachesize", 256)
	v.SetDefault("model.seed", 0)

	v.SetDefault("upload.maxbytes", 10<<20)
	v.SetDefault("upload.processingdelay", 2*time.Second)
	v.SetDefault("upload.audiourl", "/audio/sample_audio.mp3")

	v.SetDefault("history.path", "")
	v.SetDefault("history.limit", 20)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}
