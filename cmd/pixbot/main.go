package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pixbot/internal/channel"
	"pixbot/internal/config"
	"pixbot/internal/dedup"
	"pixbot/internal/pipeline"
	"pixbot/internal/provider"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "pixbot",
		Short:   "pixbot: Slack bot that edits images on request",
		Long:    "pixbot receives Slack Events API webhooks and replies with AI-edited images.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.pixbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Starts the Slack events webhook server and the image pipeline. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// buildLogger creates the application logger from config.
func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	l := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return l.With("env", cfg.General.Environment), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Slack.SigningSecret == "" || cfg.Slack.BotToken == "" {
		return fmt.Errorf("slack.signingSecret and slack.botToken are required")
	}

	logger, err = buildLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ttl := time.Duration(cfg.Dedup.TTLSeconds) * time.Second
	store, err := dedup.NewSQLiteStore(cfg.Dedup.DBPath, cfg.Dedup.CacheSize, ttl, logger)
	if err != nil {
		return fmt.Errorf("dedup store: %w", err)
	}
	defer store.Close()

	httpClient := provider.SharedHTTPClient(120 * time.Second)

	messenger := channel.NewSlack(channel.SlackConfig{
		BotToken: cfg.Slack.BotToken,
		Client:   httpClient,
		Logger:   logger,
	})
	if err := messenger.Connect(ctx); err != nil {
		return err
	}

	generator := provider.NewGemini(provider.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		APIBase: cfg.Gemini.APIBase,
		Model:   cfg.Gemini.Model,
		Client:  httpClient,
		Logger:  logger,
	})

	pipe := pipeline.New(pipeline.Config{
		Messenger:   messenger,
		Generator:   generator,
		Dedup:       store,
		DedupTTL:    ttl,
		Reaction:    cfg.Slack.Reaction,
		DebugUpload: cfg.Slack.DebugUpload,
		Logger:      logger,
	})

	webhook := channel.NewWebhook(channel.WebhookConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		EventsPath:    cfg.Server.EventsPath,
		SigningSecret: cfg.Slack.SigningSecret,
		Dedup:         store,
		DedupTTL:      ttl,
		Handler:       pipe,
		Logger:        logger,
		ServeMetrics:  cfg.Metrics.Enabled,
	})

	logger.Info("pixbot starting", "version", version)
	return webhook.Start(ctx)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check Slack auth and provider reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return err
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			messenger := channel.NewSlack(channel.SlackConfig{
				BotToken: cfg.Slack.BotToken,
				Client:   provider.SharedHTTPClient(15 * time.Second),
				Logger:   logger,
			})
			if err := messenger.Connect(ctx); err != nil {
				logger.Error("slack", "healthy", false, "err", err)
			} else {
				logger.Info("slack", "healthy", true, "bot_id", messenger.BotID())
			}

			if cfg.Gemini.APIKey == "" {
				logger.Warn("gemini", "configured", false)
			} else {
				logger.Info("gemini", "configured", true, "model", cfg.Gemini.Model)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
