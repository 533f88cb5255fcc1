package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joelkehle/pharmagpt/internal/config"
	"github.com/joelkehle/pharmagpt/internal/events"
	"github.com/joelkehle/pharmagpt/internal/interaction"
	"github.com/joelkehle/pharmagpt/internal/llm"
	"github.com/joelkehle/pharmagpt/internal/store"
	"github.com/joelkehle/pharmagpt/internal/telemetry"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	store     *store.Store
	pipeline  *interaction.Pipeline
	publisher *events.NATSPublisher
	shutdown  telemetry.ShutdownFunc
}

func openStore(ctx context.Context, c *config.Config, log *zap.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, c.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", c.Database.Driver, err)
	}
	log.Info("store ready", zap.String("driver", st.Driver()))
	return st, nil
}

func newApp(ctx context.Context, c *config.Config, log *zap.Logger) (*app, error) {
	if err := c.RequireAPIKey(); err != nil {
		return nil, err
	}
	catalog := interaction.DefaultCatalog()
	if c.Catalog.Path != "" {
		loaded, err := interaction.LoadCatalog(c.Catalog.Path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
		log.Info("catalog loaded", zap.String("path", c.Catalog.Path))
	}

	shutdown, err := telemetry.Setup(ctx, c.Telemetry.OTLPEndpoint, c.Telemetry.ServiceName)
	if err != nil {
		return nil, err
	}
	a := &app{shutdown: shutdown}

	caller, err := llm.New(ctx, c.LLMClientConfig())
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.store, err = openStore(ctx, c, log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var pub interaction.Publisher
	if c.Events.NATSURL != "" {
		a.publisher, err = events.Connect(c.Events.NATSURL, c.Events.Subject)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		pub = a.publisher
		log.Info("publishing interaction events", zap.String("subject", c.Events.Subject))
	}

	a.pipeline = interaction.NewPipeline(interaction.PipelineConfig{
		Extractor:    interaction.NewLLMExtractor(caller),
		Repository:   a.store,
		Publisher:    pub,
		Catalog:      catalog,
		Logger:       log,
		EditYear:     c.Edit.Year,
		HistoryLimit: c.History.Limit,
	})
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}
