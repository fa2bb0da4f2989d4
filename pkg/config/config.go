package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendAssistant = "assistant"
	BackendWorkflow  = "workflow"
)

// Categories that may carry their own assistant identifier.
var Categories = []string{"report", "interface", "conversion", "enhancement", "form"}

type Config struct {
	Backend  string         `mapstructure:"backend"`
	Server   ServerConfig   `mapstructure:"server"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	Environment      string   `mapstructure:"environment"`
	CORSOrigins      string   `mapstructure:"cors_origins"`
	MaxFileSize      int64    `mapstructure:"max_file_size"`
	AllowedFileTypes []string `mapstructure:"allowed_file_types"`
}

type OpenAIConfig struct {
	APIKey          string            `mapstructure:"api_key"`
	BaseURL         string            `mapstructure:"base_url"`
	AssistantID     string            `mapstructure:"assistant_id"`
	Assistants      map[string]string `mapstructure:"assistants"`
	PollInterval    time.Duration     `mapstructure:"poll_interval"`
	MaxPollAttempts int               `mapstructure:"max_poll_attempts"`
	AttachFiles     bool              `mapstructure:"attach_files"`
}

type WorkflowConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	// Timeout is expressed in seconds.
	Timeout int `mapstructure:"timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Addr is the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits the comma separated CORS origin list.
func (c ServerConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// WebhookTimeout converts the configured seconds into a duration.
func (c WorkflowConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Validate checks the values the selected backend cannot run without.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAssistant:
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key is required for the assistant backend")
		}
		if c.OpenAI.AssistantID == "" {
			return errors.New("openai.assistant_id is required for the assistant backend")
		}
		if c.OpenAI.MaxPollAttempts <= 0 {
			return fmt.Errorf("openai.max_poll_attempts must be positive, got %d", c.OpenAI.MaxPollAttempts)
		}
	case BackendWorkflow:
		if c.Workflow.WebhookURL == "" {
			return errors.New("workflow.webhook_url is required for the workflow backend")
		}
		if c.Workflow.Timeout <= 0 {
			return fmt.Errorf("workflow.timeout must be positive, got %d", c.Workflow.Timeout)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendAssistant, BackendWorkflow)
	}
	return nil
}

// LoadConfig reads defaults, the optional .env file, the optional config
// file at path and the environment, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set default values
	v.SetDefault("backend", BackendAssistant)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.cors_origins", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("server.max_file_size", 10*1024*1024)
	v.SetDefault("server.allowed_file_types", []string{".json", ".txt", ".xlsx"})
	v.SetDefault("openai.assistant_id", "asst_A68xa1Vrevyh1Wm3CP81jCVx")
	v.SetDefault("openai.poll_interval", time.Second)
	v.SetDefault("openai.max_poll_attempts", 60)
	v.SetDefault("openai.attach_files", false)
	v.SetDefault("workflow.timeout", 120)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	// Enable environment variable support
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyEnv(v, &config)

	config.Backend = strings.ToLower(strings.TrimSpace(config.Backend))
	config.OpenAI.Assistants = normalizeAssistants(config.OpenAI.Assistants)

	return &config, nil
}

// applyEnv copies the flat environment variables the service has always
// understood onto the nested configuration.
func applyEnv(v *viper.Viper, config *Config) {
	setString := func(env string, dst *string) {
		if val := v.GetString(env); val != "" {
			*dst = val
		}
	}
	setInt := func(env string, dst *int) {
		if v.IsSet(env) {
			if val := v.GetInt(env); val > 0 {
				*dst = val
			}
		}
	}

	setString("BACKEND", &config.Backend)
	setString("API_HOST", &config.Server.Host)
	setInt("API_PORT", &config.Server.Port)
	setString("ENVIRONMENT", &config.Server.Environment)
	setString("CORS_ORIGINS", &config.Server.CORSOrigins)
	if v.IsSet("MAX_FILE_SIZE") {
		if size := v.GetInt64("MAX_FILE_SIZE"); size > 0 {
			config.Server.MaxFileSize = size
		}
	}

	setString("OPENAI_API_KEY", &config.OpenAI.APIKey)
	setString("OPENAI_BASE_URL", &config.OpenAI.BaseURL)
	setString("OPENAI_ASSISTANT_ID", &config.OpenAI.AssistantID)
	for _, category := range Categories {
		if id := v.GetString("ASSISTANT_" + strings.ToUpper(category)); id != "" {
			if config.OpenAI.Assistants == nil {
				config.OpenAI.Assistants = make(map[string]string)
			}
			config.OpenAI.Assistants[category] = id
		}
	}

	setString("N8N_WEBHOOK_URL", &config.Workflow.WebhookURL)
	setInt("N8N_TIMEOUT", &config.Workflow.Timeout)

	setString("LOG_LEVEL", &config.Log.Level)
}

func normalizeAssistants(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for category, id := range in {
		if id = strings.TrimSpace(id); id != "" {
			out[strings.ToLower(strings.TrimSpace(category))] = id
		}
	}
	return out
}
