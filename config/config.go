package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the diagnosis service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Storage   StorageConfig   `mapstructure:"storage"`
	TTS       TTSConfig       `mapstructure:"tts"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig describes the upstream chat-completion endpoint. An empty APIKey
// switches the service to the deterministic demo provider.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	SpeechModel string        `mapstructure:"speech_model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	TopP        float64       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset LLM values.
func (l LLMConfig) Normalize() LLMConfig {
	if l.BaseURL == "" {
		l.BaseURL = "https://api.openai.com/v1"
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.SpeechModel == "" {
		l.SpeechModel = "tts-1"
	}
	if l.Temperature == 0 {
		l.Temperature = 0.2
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 1500
	}
	if l.TopP == 0 {
		l.TopP = 0.9
	}
	if l.Timeout <= 0 {
		l.Timeout = 90 * time.Second
	}
	return l
}

// PipelineConfig tunes orchestrator behaviour.
type PipelineConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

func (p PipelineConfig) Normalize() PipelineConfig {
	if p.SettleDelay <= 0 {
		p.SettleDelay = 150 * time.Millisecond
	}
	return p
}

// DatabasesConfig groups backing stores.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains the session store connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", errors.New("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains the audio cache connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port, or empty when redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// StorageConfig contains object storage configuration.
type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config targets a MinIO/S3-compatible endpoint for report uploads.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

func (s S3Config) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return nil
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.s3.bucket required when endpoint is provided")
	}
	return nil
}

// TTSConfig tunes the text-to-speech endpoint.
type TTSConfig struct {
	DefaultVoice string        `mapstructure:"default_voice"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	ChunkSize    int           `mapstructure:"chunk_size"`
}

func (t TTSConfig) Normalize() TTSConfig {
	if t.DefaultVoice == "" {
		t.DefaultVoice = "alloy"
	}
	if t.CacheTTL <= 0 {
		t.CacheTTL = 24 * time.Hour
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = 32 * 1024
	}
	return t
}

// LoadConfig loads config from file, with MEDPILOT_* env overrides. A missing
// config file is not fatal so the service can run in demo mode on defaults.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("general.log_level", "info")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MEDPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Pipeline = cfg.Pipeline.Normalize()
	cfg.TTS = cfg.TTS.Normalize()
	if err := cfg.Storage.S3.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
