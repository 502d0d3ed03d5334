package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultWebhookBasePath = "/webhooks"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Messenger MessengerConfig `toml:"messenger"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Slack     SlackConfig     `toml:"slack"`
	Discord   DiscordConfig   `toml:"discord"`
	Socket    SocketConfig    `toml:"socket"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"OMNIBOT_LOG_LEVEL"`
	Format string `toml:"format" env:"OMNIBOT_LOG_FORMAT"`
}

type ServerConfig struct {
	Addr            string `toml:"addr" env:"OMNIBOT_HTTP_ADDR"`
	WebhookBasePath string `toml:"webhook_base_path" env:"OMNIBOT_WEBHOOK_BASE_PATH"`
}

type MessengerConfig struct {
	Enabled     bool   `toml:"enabled" env:"OMNIBOT_MESSENGER_ENABLED"`
	VerifyToken string `toml:"verify_token" env:"OMNIBOT_MESSENGER_VERIFY_TOKEN" validate:"required_if=Enabled true"`
	PageToken   string `toml:"page_token" env:"OMNIBOT_MESSENGER_PAGE_TOKEN" validate:"required_if=Enabled true"`
	AppSecret   string `toml:"app_secret" env:"OMNIBOT_MESSENGER_APP_SECRET" validate:"required_if=Enabled true"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled" env:"OMNIBOT_TELEGRAM_ENABLED"`
	BotToken string `toml:"bot_token" env:"OMNIBOT_TELEGRAM_BOT_TOKEN" validate:"required_if=Enabled true"`
}

type SlackConfig struct {
	Enabled       bool   `toml:"enabled" env:"OMNIBOT_SLACK_ENABLED"`
	BotToken      string `toml:"bot_token" env:"OMNIBOT_SLACK_BOT_TOKEN" validate:"required_if=Enabled true"`
	SigningSecret string `toml:"signing_secret" env:"OMNIBOT_SLACK_SIGNING_SECRET" validate:"required_if=Enabled true"`
}

type DiscordConfig struct {
	Enabled  bool   `toml:"enabled" env:"OMNIBOT_DISCORD_ENABLED"`
	BotToken string `toml:"bot_token" env:"OMNIBOT_DISCORD_BOT_TOKEN" validate:"required_if=Enabled true"`
}

type SocketConfig struct {
	Enabled bool `toml:"enabled" env:"OMNIBOT_SOCKET_ENABLED"`
}

// Load reads the configuration file and applies environment overrides
// on top. A missing file is not an error; defaults and environment
// still apply. Credentials are expected to arrive via environment in
// most deployments.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:            DefaultHTTPAddr,
			WebhookBasePath: DefaultWebhookBasePath,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

// Validate checks that every enabled platform carries its credentials
// and that at least one platform is enabled.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.Messenger.Enabled && !c.Telegram.Enabled && !c.Slack.Enabled &&
		!c.Discord.Enabled && !c.Socket.Enabled {
		return fmt.Errorf("at least one platform must be enabled")
	}
	return nil
}
