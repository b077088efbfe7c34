package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

var validate = validator.New()

type Config struct {
	// Credentials are not required here; a missing token fails at connect time
	// and is retried by the supervisor.
	TelegramAPIToken string `env:"TELEGRAM_API_TOKEN"`

	// LLM settings
	LLMProvider       LLMProvider   `env:"LLM_PROVIDER" envDefault:"openai" validate:"oneof=openai yandex"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo" validate:"required"`
	YandexOAuthToken  string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID    string        `env:"YANDEX_FOLDER_ID"`
	MaxTokens         int           `env:"MAX_TOKENS" envDefault:"750" validate:"min=1,max=4096"`
	Temperature       float32       `env:"TEMPERATURE" envDefault:"0.7" validate:"min=0,max=2"`
	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"0s" validate:"min=0"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Persona
	TriggerMarker string `env:"TRIGGER_MARKER" envDefault:"/t" validate:"required"`
	FlavorEvery   int64  `env:"FLAVOR_EVERY" envDefault:"5" validate:"min=1"`
	FlavorSeed    int64  `env:"FLAVOR_SEED" envDefault:"0"`
	PersonaFile   string `env:"PERSONA_FILE" envDefault:"persona.yml"`

	// Transport
	RestartDelay time.Duration `env:"RESTART_DELAY" envDefault:"5s" validate:"min=0"`
	PollTimeout  int           `env:"POLL_TIMEOUT" envDefault:"60" validate:"min=0"`

	// Journal
	JournalFilePath string `env:"JOURNAL_FILE_PATH"`
	JournalCapacity int    `env:"JOURNAL_CAPACITY" envDefault:"10000" validate:"min=1"`
	ReportCron      string `env:"REPORT_CRON" envDefault:"0 21 * * *"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
