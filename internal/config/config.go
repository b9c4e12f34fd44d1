package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// UploadConfig bounds what a single batch submission may contain.
type UploadConfig struct {
	MaxBatchSize int `yaml:"maxBatchSize"`
	MaxImageMB   int `yaml:"maxImageMB"`
}

// WorkerConfig controls the dispatcher: how many vision calls may be
// in flight at once and how long a single call may take before it is
// treated as a task failure.
type WorkerConfig struct {
	MaxConcurrentTasks int `yaml:"maxConcurrentTasks"`
	TaskTimeoutMs      int `yaml:"taskTimeoutMs"`
}

// EtaConfig seeds the per-task duration estimate used for snapshot ETAs
// before any real sample has been observed.
type EtaConfig struct {
	DefaultTaskSeconds int `yaml:"defaultTaskSeconds"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// LLMConfig selects and configures the vision provider used to
// describe garment images.
type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	SystemPrompt    string          `yaml:"systemPrompt"`
	UserPrompt      string          `yaml:"userPrompt"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// ExportConfig shapes the generated catalog workbook.
type ExportConfig struct {
	DescriptionLines int    `yaml:"descriptionLines"`
	SheetName        string `yaml:"sheetName"`
}

// JobTTLConfig controls retention of terminal jobs in minutes.
type JobTTLConfig struct {
	DefaultMinutes int `yaml:"defaultMinutes"`
}

// RetentionConfig controls TTL-like eviction of old terminal jobs so
// that the in-memory registry does not grow without bound over time.
// Disabled by default: jobs then live for the process lifetime.
type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig `yaml:"jobs"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Uploads   UploadConfig    `yaml:"uploads"`
	Worker    WorkerConfig    `yaml:"worker"`
	Eta       EtaConfig       `yaml:"eta"`
	LLM       LLMConfig       `yaml:"llm"`
	Export    ExportConfig    `yaml:"export"`
	Retention RetentionConfig `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Uploads.MaxBatchSize == 0 {
		c.Uploads.MaxBatchSize = 200
	}
	if c.Uploads.MaxImageMB == 0 {
		c.Uploads.MaxImageMB = 20
	}
	if c.Worker.MaxConcurrentTasks == 0 {
		c.Worker.MaxConcurrentTasks = 4
	}
	if c.Eta.DefaultTaskSeconds == 0 {
		c.Eta.DefaultTaskSeconds = 20
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "openai"
	}
	if c.Export.DescriptionLines == 0 {
		c.Export.DescriptionLines = 4
	}
	if c.Export.SheetName == "" {
		c.Export.SheetName = "Fashion Catalog"
	}
}
