package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        Log        `yaml:"log"`
	DB         DB         `yaml:"db"`
	AI         AI         `yaml:"ai"`
	Bot        Bot        `yaml:"bot"`
	Extensions Extensions `yaml:"extensions"`
}

type AI struct {
	// OpenAI-compatible base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1" validate:"required"`
	// API token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// Model used for routing decisions and query generation
	Model string `yaml:"model" example:"deepseek/deepseek-chat-v3-0324:free" validate:"required"`
}

type Bot struct {
	// Listen address of the webhook server
	Listen string `yaml:"listen" example:":8080"`
	// Shared secret expected in the X-Webhook-Token header, empty disables the check
	Token string `yaml:"token"`
	// Callback URL replies are posted to, empty logs replies instead
	CallbackURL string `yaml:"callback_url" example:"https://open.example.com/bot/reply"`
	// Number of concurrent message workers
	Workers int `yaml:"workers" example:"4"`
	// Size of the inbound message buffer
	QueueSize int `yaml:"queue_size" example:"64"`
	// Deduplication window in seconds
	DedupWindowSeconds int `yaml:"dedup_window_seconds" example:"120"`
	// Maximum number of remembered message fingerprints
	DedupMaxSize int `yaml:"dedup_max_size" example:"1000"`
}

type Extensions struct {
	// Directory scanned for scripted extensions
	Dir string `yaml:"dir" example:"extensions"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type DB struct {
	// Path to the sqlite database file
	Path string `yaml:"path" example:"data/lifelog.db"`
}

func Load(path string) (*Config, error) {
	var result Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.DB.Path == "" {
		result.DB.Path = "data/lifelog.db"
	}
	if result.Bot.Listen == "" {
		result.Bot.Listen = ":8080"
	}
	if result.Bot.Workers <= 0 {
		result.Bot.Workers = 4
	}
	if result.Bot.QueueSize <= 0 {
		result.Bot.QueueSize = 64
	}
	if result.Bot.DedupWindowSeconds <= 0 {
		result.Bot.DedupWindowSeconds = 120
	}
	if result.Bot.DedupMaxSize <= 0 {
		result.Bot.DedupMaxSize = 1000
	}
	if result.Extensions.Dir == "" {
		result.Extensions.Dir = "extensions"
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
