// Package config loads the YAML configuration shared by the server and the CLI.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/OmChillure/clinic-chat/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = "8080"
	defaultModel       = "tgi"
	defaultMaxTokens   = 2048
	defaultTemperature = float32(0.7)
	defaultOllamaHost  = "http://localhost:11434"
)

// LLMConfig builds the configured provider.
type LLMConfig interface {
	LLM(logger *slog.Logger) (chat.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

// Config is the root of the configuration file.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// SystemPrompt replaces the prompt derived from Specialty and Language when not empty.
	SystemPrompt  string `yaml:"systemPrompt"`
	Specialty     string `yaml:"specialty"`
	Language      string `yaml:"language"`
	ContextWindow int    `yaml:"contextWindow"`

	LLM     LLMConfig      `yaml:"llm"`
	Whisper *WhisperConfig `yaml:"whisper"`
}

// CompatibleConfig configures an endpoint speaking the OpenAI chat completions protocol.
type CompatibleConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string            `yaml:"baseURL"`
	APIKey        string            `yaml:"apiKey"`
	Headers       map[string]string `yaml:"headers"`
}

// OpenAIConfig configures the OpenAI API.
type OpenAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

// OllamaConfig configures an Ollama server.
type OllamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

// AnthropicConfig configures the Anthropic API.
type AnthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

// WhisperConfig configures the speech transcription endpoint.
type WhisperConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// DefaultPath returns the location of the configuration file under the user config directory.
func DefaultPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "clinic-chat", "config.yaml"), nil
}

// Load reads and decodes the configuration file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes the configuration, picking the LLM configuration type from llm.provider.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port          string         `yaml:"port"`
		LogLevel      string         `yaml:"logLevel"`
		SystemPrompt  string         `yaml:"systemPrompt"`
		Specialty     string         `yaml:"specialty"`
		Language      string         `yaml:"language"`
		ContextWindow int            `yaml:"contextWindow"`
		LLM           map[string]any `yaml:"llm"`
		Whisper       *WhisperConfig `yaml:"whisper"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.Specialty = rawConfig.Specialty
	c.Language = rawConfig.Language
	c.ContextWindow = rawConfig.ContextWindow
	if c.ContextWindow == 0 {
		c.ContextWindow = chat.DefaultContextWindow
	}
	c.Whisper = rawConfig.Whisper

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm LLMConfig
	switch llmProvider {
	case "compatible":
		llm = &CompatibleConfig{}
	case "openai":
		llm = &OpenAIConfig{}
	case "ollama":
		llm = &OllamaConfig{}
	case "anthropic":
		llm = &AnthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// Level returns the configured log level, Info when unset or unknown.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Prompt returns the system prompt sent with every request.
func (c Config) Prompt() (string, error) {
	if c.SystemPrompt != "" {
		return c.SystemPrompt, nil
	}
	specialty, err := chat.ParseSpecialty(c.Specialty)
	if err != nil {
		return "", err
	}
	return chat.SystemPrompt(specialty, c.Language), nil
}

// ClientOptions returns the chat client options derived from the configuration.
func (c Config) ClientOptions(logger *slog.Logger) (chat.Options, error) {
	prompt, err := c.Prompt()
	if err != nil {
		return chat.Options{}, err
	}
	return chat.Options{
		SystemPrompt:  prompt,
		ContextWindow: c.ContextWindow,
		Logger:        logger,
	}, nil
}

// Transcriber builds the speech transcriber. It returns an error if whisper isn't configured.
func (c Config) Transcriber(logger *slog.Logger) (services.Whisper, error) {
	if c.Whisper == nil || c.Whisper.Endpoint == "" {
		return services.Whisper{}, errors.New("whisper endpoint is not configured")
	}
	apiKey := c.Whisper.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("WHISPER_API_KEY")
	}
	return services.NewWhisper(services.WhisperConfig{
		Endpoint: c.Whisper.Endpoint,
		APIKey:   apiKey,
	}, logger), nil
}

func (b BaseLLMConfig) params() services.LLMParameters {
	p := b.Parameters
	if p.MaxTokens == 0 {
		p.MaxTokens = defaultMaxTokens
	}
	if p.Temperature == nil {
		t := defaultTemperature
		p.Temperature = &t
	}
	return p
}

func (b BaseLLMConfig) model(fallback string) (string, error) {
	if b.Model != "" {
		return b.Model, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("model is required")
}

// LLM implements LLMConfig.
func (c CompatibleConfig) LLM(logger *slog.Logger) (chat.LLM, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	model, err := c.model(defaultModel)
	if err != nil {
		return nil, err
	}

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("LLM_API_KEY")
	}
	return services.NewCompatible(services.CompatibleConfig{
		BaseURL: c.BaseURL,
		APIKey:  apiKey,
		Model:   model,
		Headers: c.Headers,
		Params:  c.params(),
	}, logger), nil
}

// LLM implements LLMConfig.
func (o OpenAIConfig) LLM(logger *slog.Logger) (chat.LLM, error) {
	model, err := o.model("")
	if err != nil {
		return nil, err
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(services.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: o.BaseURL,
		Model:   model,
		Params:  o.params(),
	}, logger), nil
}

// LLM implements LLMConfig.
func (o OllamaConfig) LLM(logger *slog.Logger) (chat.LLM, error) {
	model, err := o.model("")
	if err != nil {
		return nil, err
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(services.OllamaConfig{
		Host:   host,
		Model:  model,
		Params: o.params(),
	}, logger)
}

// LLM implements LLMConfig.
func (a AnthropicConfig) LLM(logger *slog.Logger) (chat.LLM, error) {
	model, err := a.model("")
	if err != nil {
		return nil, err
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(services.AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: a.BaseURL,
		Model:   model,
		Params:  a.params(),
	}, logger), nil
}
