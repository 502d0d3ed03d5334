package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/omnibothq/omnibot/internal/adapters/discord"
	"github.com/omnibothq/omnibot/internal/adapters/messenger"
	"github.com/omnibothq/omnibot/internal/adapters/slack"
	"github.com/omnibothq/omnibot/internal/adapters/socket"
	"github.com/omnibothq/omnibot/internal/adapters/telegram"
	"github.com/omnibothq/omnibot/internal/bot"
	"github.com/omnibothq/omnibot/internal/config"
	"github.com/omnibothq/omnibot/internal/handlers"
	"github.com/omnibothq/omnibot/internal/logger"
	"github.com/omnibothq/omnibot/internal/server"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot server",
	Run: func(_ *cobra.Command, _ []string) {
		runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml")
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMaster,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideStatusHandler),
			provideServerHandler(provideWebhooksHandler),
			provideServer,
		),
		fx.Invoke(
			startMaster,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideMaster assembles one bot per enabled platform.
func provideMaster(cfg config.Config, log *slog.Logger) (*bot.Master, error) {
	m := bot.NewMaster(log)

	if cfg.Messenger.Enabled {
		transport, err := messenger.New(messenger.Config{
			VerifyToken: cfg.Messenger.VerifyToken,
			PageToken:   cfg.Messenger.PageToken,
			AppSecret:   cfg.Messenger.AppSecret,
		}, log)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddBot(transport); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		transport, err := telegram.New(telegram.Config{BotToken: cfg.Telegram.BotToken}, log)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddBot(transport); err != nil {
			return nil, err
		}
	}
	if cfg.Slack.Enabled {
		transport, err := slack.New(slack.Config{
			BotToken:      cfg.Slack.BotToken,
			SigningSecret: cfg.Slack.SigningSecret,
		}, log)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddBot(transport); err != nil {
			return nil, err
		}
	}
	if cfg.Discord.Enabled {
		transport, err := discord.New(discord.Config{BotToken: cfg.Discord.BotToken}, log)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddBot(transport); err != nil {
			return nil, err
		}
	}
	if cfg.Socket.Enabled {
		if _, err := m.AddBot(socket.New(log)); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func providePingHandler() *handlers.PingHandler {
	return handlers.NewPingHandler()
}

func provideStatusHandler(master *bot.Master, log *slog.Logger) *handlers.StatusHandler {
	return handlers.NewStatusHandler(master, log)
}

func provideWebhooksHandler(master *bot.Master, cfg config.Config, log *slog.Logger) *handlers.WebhooksHandler {
	return handlers.NewWebhooksHandler(master, cfg.Server.WebhookBasePath, log)
}

type serverParams struct {
	fx.In
	Config   config.Config
	Logger   *slog.Logger
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Config.Server.Addr, params.Logger, params.Handlers...)
}

func startMaster(lc fx.Lifecycle, master *bot.Master) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return master.Start(ctx) },
		OnStop:  func(context.Context) error { return master.Shutdown() },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
