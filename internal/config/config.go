package config

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Chat     ChatConfig     `mapstructure:"chat"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Settings SettingsConfig `mapstructure:"settings"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	AuthSecret     string        `mapstructure:"auth_secret"`
}

// ProviderConfig describes the upstream chat-completion API.
type ProviderConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Proxy        string        `mapstructure:"proxy"`
	BaseURL      string        `mapstructure:"base_url"`
	Host         string        `mapstructure:"host"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

// BackendConfig points at the chat backend used when no API key is available
// (the /chat-process, /config, /session and /verify endpoints).
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChatConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	UseContext   bool   `mapstructure:"use_context"`
	// cumulative | delta
	Accumulation string `mapstructure:"accumulation"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	// memory | disk | badger
	Type      string `mapstructure:"type"`
	DataDir   string `mapstructure:"data_dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

const (
	DefaultModel   = "gpt-3.5-turbo"
	DefaultBaseURL = "https://api.openai.com"
	DefaultHost    = "api.openai.com"

	AccumulationCumulative = "cumulative"
	AccumulationDelta      = "delta"
)

var (
	cfg *Config
	v   *viper.Viper
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("provider.base_url", DefaultBaseURL)
	v.SetDefault("provider.host", DefaultHost)
	v.SetDefault("provider.model", DefaultModel)
	v.SetDefault("provider.timeout", 5*time.Minute)

	// 空值也要注册，AutomaticEnv 才能在 Unmarshal 时生效
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 5*time.Minute)

	v.SetDefault("chat.accumulation", AccumulationCumulative)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)

	v.SetDefault("settings.path", "./data/settings.yaml")
}

// Load reads the YAML file at configPath. An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v = viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	c, err := decode(v)
	if err != nil {
		return nil, err
	}

	cfg = c
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	// 配置文件优先，如果配置文件中没有设置，则使用环境变量
	if c.Provider.APIKey == "" {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			c.Provider.APIKey = apiKey
		}
	}
	if c.Provider.Proxy == "" {
		if proxy := os.Getenv("URL_PROXY"); proxy != "" {
			c.Provider.Proxy = proxy
		}
	}

	if c.Chat.Accumulation != AccumulationDelta {
		c.Chat.Accumulation = AccumulationCumulative
	}

	return c, nil
}

// Watch re-reads the config file whenever it changes on disk and hands the result to fn.
// It is a no-op when Load was called without a file.
func Watch(fn func(*Config)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	watched := v
	watched.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := decode(watched)
		if err != nil {
			return
		}
		cfg = c
		fn(c)
	})
	watched.WatchConfig()
}

func Get() *Config {
	return cfg
}
