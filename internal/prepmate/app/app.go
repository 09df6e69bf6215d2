// Package app wires prepmate together: the store, the governance layer,
// the reply generator, the Matrix host and the health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/config"
	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/generate"
	"github.com/bdobrica/prepmate/internal/prepmate/governance"
	"github.com/bdobrica/prepmate/internal/prepmate/llm"
	"github.com/bdobrica/prepmate/internal/prepmate/matrix"
	"github.com/bdobrica/prepmate/internal/prepmate/recall"
	"github.com/bdobrica/prepmate/internal/prepmate/session"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	// PolicyPath is the governance policy YAML. A missing file means the
	// built-in defaults; the file is watched for changes.
	PolicyPath string
	Matrix     matrix.Config
	// HTTPAddr is the address for the health/status server (e.g. ":8080").
	// Empty disables it.
	HTTPAddr string

	// LLM configures the chat-completion API. With an empty APIKey the
	// continuity classifier is disabled (every message with history goes
	// through the pre-filter only) and replies come from generate.Fallback.
	LLM             llm.OpenAIConfig
	ClassifierModel string
	ChecklistModel  string
	FollowUpModel   string
}

// App is the running bot.
type App struct {
	config       *Config
	store        *store.Store
	policy       *config.Loader
	ledger       *usage.Ledger
	matrix       *matrix.Client
	handler      *Handler
	healthServer *HealthServer
}

// Components is the governance stack built on a store, shared by the bot
// and the admin CLI.
type Components struct {
	Ledger       *usage.Ledger
	Sessions     *session.Tracker
	Recall       *recall.Index
	Orchestrator *governance.Orchestrator
}

// Build assembles the governance stack on st under policy. classifier may
// be nil.
func Build(st *store.Store, policy *config.Policy, classifier continuity.Classifier, clk clock.Clock, logger *slog.Logger) *Components {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{
		Ledger:   usage.New(st, clk, policy.UsageLimits(), logger),
		Sessions: session.NewTracker(st, clk, policy.SessionConfig(), logger),
		Recall:   recall.NewIndex(st, clk, logger),
	}
	c.Orchestrator = governance.New(governance.Components{
		Ledger:   c.Ledger,
		Sessions: c.Sessions,
		Detector: continuity.NewDetector(classifier, policy.Continuity.Threshold, logger),
		Recall:   c.Recall,
		Store:    st,
		Clock:    clk,
	}, policy.GovernanceConfig(), logger)
	return c
}

// New opens the store, loads the policy and builds every component.
func New(cfg *Config) (*App, error) {
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	loader, err := config.NewLoader(cfg.PolicyPath, nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	var (
		classifier continuity.Classifier
		generator  generate.Generator = generate.Fallback{}
	)
	if cfg.LLM.APIKey != "" {
		provider := llm.NewOpenAI(cfg.LLM)
		classifier = continuity.NewLLMClassifier(provider, cfg.ClassifierModel)
		generator = generate.NewLLM(provider, generate.Config{
			ChecklistModel: cfg.ChecklistModel,
			FollowUpModel:  cfg.FollowUpModel,
		})
	} else {
		slog.Warn("no LLM API key configured; follow-up classification is off and replies use the fallback template")
	}

	components := Build(st, loader.Policy(), classifier, nil, nil)

	mxCfg := cfg.Matrix
	mxCfg.DB = st.DB()
	mx, err := matrix.New(&mxCfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		config:  cfg,
		store:   st,
		policy:  loader,
		ledger:  components.Ledger,
		matrix:  mx,
		handler: NewHandler(components.Orchestrator, generator, mx, nil),
	}
	if cfg.HTTPAddr != "" {
		a.healthServer = NewHealthServer(cfg.HTTPAddr, st, loader)
	}
	return a, nil
}

// Run starts the bot and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	go func() {
		err := a.policy.Watch(ctx, func(p *config.Policy) {
			a.ledger.SetLimits(p.UsageLimits())
			slog.Info("usage limits updated from policy file; other policy changes apply on restart")
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("policy file is not watched", "path", a.config.PolicyPath, "err", err)
		}
	}()

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handler.Handle); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("prepmate is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the bot and closes the store.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}
