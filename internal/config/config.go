package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Azure     AzureConfig     `mapstructure:"azure"`
	Session   SessionConfig   `mapstructure:"session"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type StoreConfig struct {
	// Driver is "memory" or "mongo".
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig enables the translation cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AzureConfig enables cloud speech when keys are set; otherwise the browser
// voices clips itself and translation is passthrough.
type AzureConfig struct {
	SpeechKey        string `mapstructure:"speech_key"`
	SpeechRegion     string `mapstructure:"speech_region"`
	TranslatorKey    string `mapstructure:"translator_key"`
	TranslatorRegion string `mapstructure:"translator_region"`
	AudioFormat      string `mapstructure:"audio_format"`

	TTSTimeout        time.Duration `mapstructure:"tts_timeout"`
	TranslatorTimeout time.Duration `mapstructure:"translator_timeout"`
}

type SessionConfig struct {
	Cooldown       time.Duration `mapstructure:"cooldown"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	PrepareLimit   int           `mapstructure:"prepare_limit"`
}

type ReaperConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Interval time.Duration `mapstructure:"interval"`
}

type PlaybackConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Presses int           `mapstructure:"presses"`
	Window  time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("mongo.database", "syncroom")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "168h")

	v.SetDefault("azure.speech_key", "")
	v.SetDefault("azure.speech_region", "")
	v.SetDefault("azure.translator_key", "")
	v.SetDefault("azure.translator_region", "")
	v.SetDefault("azure.audio_format", "audio-24khz-48kbitrate-mono-mp3")
	v.SetDefault("azure.tts_timeout", "30s")
	v.SetDefault("azure.translator_timeout", "10s")

	v.SetDefault("session.cooldown", "1s")
	v.SetDefault("session.heartbeat", "15s")
	v.SetDefault("session.release_timeout", "3s")
	v.SetDefault("session.prepare_limit", 4)

	v.SetDefault("reaper.ttl", "45s")
	v.SetDefault("reaper.interval", "15s")
	v.SetDefault("playback.timeout", "60s")
	v.SetDefault("ratelimit.presses", 5)
	v.SetDefault("ratelimit.window", "3s")
}

// Load reads config/config.<CONFIG_ENV>.yaml; every key can be overridden
// with SYNCROOM_<KEY>, dots replaced by underscores.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SYNCROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("store", cfg.Store.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Mode == "release" && c.Secret == "" {
		return fmt.Errorf("secret must be set in release mode")
	}
	if c.Reaper.TTL <= c.Session.Heartbeat {
		return fmt.Errorf("reaper.ttl (%s) must exceed session.heartbeat (%s)", c.Reaper.TTL, c.Session.Heartbeat)
	}
	if c.RateLimit.Presses <= 0 {
		return fmt.Errorf("ratelimit.presses must be positive, got %d", c.RateLimit.Presses)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive, got %s", c.RateLimit.Window)
	}
	return nil
}
