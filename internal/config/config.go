package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientType selects the transport used to reach an MCP server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Config holds the application configuration
type Config struct {
	LLM        LLMConfig
	Server     ServerConfig
	Store      StoreConfig
	Chat       ChatConfig
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
	LogLevel   string            `mapstructure:"log_level"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	// ImageModel generates job header images; empty disables them.
	ImageModel string `mapstructure:"image_model"`
	ImageSize  string `mapstructure:"image_size"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// PublicURL is the site root used in shared job links.
	PublicURL string `mapstructure:"public_url"`
}

// StoreConfig points at the sqlite file holding saved jobs.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ChatConfig tunes the assistant widget.
type ChatConfig struct {
	AssistantName   string        `mapstructure:"assistant_name"`
	Company         string        `mapstructure:"company"`
	WelcomeMessage  string        `mapstructure:"welcome_message"`
	SubmitDelay     time.Duration `mapstructure:"submit_delay"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
	EchoSubmissions bool          `mapstructure:"echo_submissions"`
	MaxToolRounds   int           `mapstructure:"max_tool_rounds"`
}

// MCPServerConfig describes one MCP server offering retrieval tools (web search, maps).
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.request_timeout", 60*time.Second)
	v.SetDefault("llm.rate_limit", 0)
	v.SetDefault("llm.rate_burst", 1)
	v.SetDefault("llm.image_model", "dall-e-3")
	v.SetDefault("llm.image_size", "1792x1024")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.public_url", "https://muhtesem-tech.com")

	v.SetDefault("store.path", "muhtesem.db")

	v.SetDefault("chat.assistant_name", "Muhteşem Assistant")
	v.SetDefault("chat.company", "Muhteşem Technology")
	v.SetDefault("chat.welcome_message", "Hello! I am the Muhteşem Assistant. I can help you find open roles or provide information about our recruitment services. How can I help you today?")
	v.SetDefault("chat.submit_delay", 1500*time.Millisecond)
	v.SetDefault("chat.notify_timeout", 30*time.Second)
	v.SetDefault("chat.echo_submissions", false)
	v.SetDefault("chat.max_tool_rounds", 5)

	v.SetDefault("log_level", "info")
}

// Load reads config.yaml from the working directory, or the file named by
// CONFIG_PATH. Values can be overridden with MUHTESEM_* environment variables.
// A missing config.yaml is not an error; a missing CONFIG_PATH file is.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MUHTESEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
