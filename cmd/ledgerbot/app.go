package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/smartfinance/ledgerbot/internal/agent"
	"github.com/smartfinance/ledgerbot/internal/api"
	"github.com/smartfinance/ledgerbot/internal/config"
	"github.com/smartfinance/ledgerbot/internal/database"
	"github.com/smartfinance/ledgerbot/internal/ledger"
	"github.com/smartfinance/ledgerbot/internal/line"
	"github.com/smartfinance/ledgerbot/internal/llm"
	"github.com/smartfinance/ledgerbot/internal/memory"
	"github.com/smartfinance/ledgerbot/internal/mqtt"
	"github.com/smartfinance/ledgerbot/internal/tools"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *database.DB
	ledger  *ledger.Store
	history *memory.Store
	tools   *tools.Registry
	loop    *agent.Loop
	mqtt    *mqtt.Publisher
	closers []func() error
}

// newApp opens storage and builds the agent. Nothing listens yet.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a.db, err = database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	loc := cfg.Agent.Location()
	a.ledger, err = ledger.NewStore(ctx, a.db, ledger.WithLocation(loc))
	if err != nil {
		return nil, err
	}

	backend, err := newConversationBackend(ctx, cfg, a.db)
	if err != nil {
		return nil, err
	}
	a.history = memory.NewStore(backend, logger,
		memory.WithMaxMessages(cfg.Conversation.MaxMessages),
		memory.WithRetention(cfg.Conversation.Retention()),
		memory.WithSweepInterval(cfg.Conversation.SweepInterval()),
	)
	a.closers = append(a.closers, a.history.Close)
	logger.Info("conversation store ready",
		"backend", cfg.Conversation.Backend,
		"max_messages", cfg.Conversation.MaxMessages,
		"retention", cfg.Conversation.Retention(),
	)

	toolOpts := []tools.Option{
		tools.WithToolTimeout(time.Duration(cfg.Agent.ToolTimeoutSec) * time.Second),
	}
	if cfg.MQTT.Configured() {
		instanceID, idErr := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if idErr != nil {
			logger.Warn("mqtt instance id unavailable, using bare client id", "error", idErr)
		}
		a.mqtt = mqtt.New(cfg.MQTT, instanceID, a.ledger, logger)
		toolOpts = append(toolOpts, tools.WithEventSink(a.mqtt))
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "base_topic", cfg.MQTT.BaseTopic)
	}
	a.tools = tools.NewRegistry(a.ledger, logger, toolOpts...)

	client, err := newLLMClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.loop = agent.NewLoop(client, a.tools, a.history, agent.Config{
		Model:         cfg.Models.Default,
		HistoryLimit:  cfg.Conversation.HistoryLimit,
		MaxToolCalls:  cfg.Agent.MaxToolCalls,
		ModelTimeout:  time.Duration(cfg.Agent.ModelTimeoutSec) * time.Second,
		Location:      loc,
		ConfirmClear:  cfg.Agent.ClearConfirmation(),
		ConfirmWindow: time.Duration(cfg.Agent.ConfirmWindowSec) * time.Second,
	}, logger)

	return a, nil
}

// server builds the HTTP server with every configured transport mounted.
func (a *app) server() *api.Server {
	s := api.NewServer(a.cfg.Listen.Address, a.cfg.Listen.Port, a.loop, a.ledger, a.history, a.logger)

	if a.cfg.LINE.Configured() {
		replier := line.NewReplyClient(a.cfg.LINE.APIBaseURL, a.cfg.LINE.ChannelAccessToken, a.logger)
		s.Mount(line.NewWebhook(a.cfg.LINE.ChannelSecret, a.loop, replier, a.cfg.LINE.BindURL, a.logger))
		a.logger.Info("LINE webhook enabled", "bind_qr", a.cfg.LINE.BindURL != "")
	} else {
		a.logger.Info("LINE webhook disabled (not configured)")
	}
	return s
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newConversationBackend selects the history backend. The sql backend
// shares the ledger database.
func newConversationBackend(ctx context.Context, cfg *config.Config, db *database.DB) (memory.Backend, error) {
	switch cfg.Conversation.Backend {
	case "mongo":
		m := cfg.Conversation.Mongo
		b, err := memory.NewMongoBackend(ctx, m.URI, m.Database, m.Collection)
		if err != nil {
			return nil, fmt.Errorf("open mongo conversations: %w", err)
		}
		return b, nil
	case "memory":
		return memory.NewInMemory(), nil
	default:
		b, err := memory.NewSQLBackend(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("open sql conversations: %w", err)
		}
		return b, nil
	}
}

// newLLMClient builds a multi-provider client. Each configured model is
// mapped to its provider; unmapped models fall through to Ollama. A
// default model whose provider is not configured fails startup.
func newLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}

	if cfg.Gemini.Configured() {
		pingModel := cfg.Models.Default
		for _, m := range cfg.Models.Available {
			if m.Provider == "gemini" {
				pingModel = m.Name
				break
			}
		}
		gemini, err := llm.NewGeminiClient(ctx, cfg.Gemini.APIKey, pingModel, logger)
		if err != nil {
			return nil, err
		}
		multi.AddProvider("gemini", gemini)
		logger.Info("Gemini provider configured")
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	defaultProvider, _, err := multi.Route(cfg.Models.Default)
	if err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", defaultProvider)

	return multi, nil
}
