package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/neam/internal/metrics"
	"github.com/cognicore/neam/pkg/neam"
	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/annotate/corenlp"
	"github.com/cognicore/neam/pkg/neam/annotate/llm"
	"github.com/cognicore/neam/pkg/neam/config"
	"github.com/cognicore/neam/pkg/neam/internalerr"
	"github.com/cognicore/neam/pkg/neam/store"
	"github.com/cognicore/neam/pkg/neam/store/memstore"
	"github.com/cognicore/neam/pkg/neam/store/sqlite"
)

// openStore opens the configured run history. Driver "none" returns nil.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory":
		return memstore.New(), nil
	case "sqlite", "":
		st, err := sqlite.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", internalerr.ErrInvalidConfig, cfg.Driver)
	}
}

// buildSource creates the annotation source selected by cfg, wrapped in the
// annotation cache when enabled and a store is available.
func buildSource(cfg config.SourceConfig, comp *config.Components, st store.Store, logger *zap.Logger) (annotate.Source, error) {
	var src annotate.Source
	switch cfg.Kind {
	case "corenlp", "":
		client, err := corenlp.New(corenlp.Config{
			BaseURL:    cfg.URL,
			Properties: comp.Engine.Properties(),
			Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
			Retries:    uint64(cfg.Retries),
			Backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		src = client
	case "llm":
		src = llm.New(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", internalerr.ErrInvalidConfig, cfg.Kind)
	}

	if cfg.Cache && st != nil {
		src = annotate.NewCached(src, st, logger).WithObserver(metrics.RecordCache)
	}
	return src, nil
}

// buildClassifier wires configuration, store, source and metrics into a
// Classifier. A store that cannot be opened is logged and skipped. The
// returned cleanup closes the store.
func buildClassifier(ctx context.Context, cfg config.Config, loader *config.Loader, logger *zap.Logger) (*neam.Classifier, func(), error) {
	loader.Config = cfg
	loader.Logger = logger
	comp := loader.Load()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Warn("run history unavailable, continuing without it", zap.Error(err))
		st = nil
	}

	src, err := buildSource(cfg.Source, comp, st, logger)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, nil, err
	}

	metrics.Register()

	c := neam.New(neam.Options{
		Source:      src,
		Dict:        comp.Dict,
		Store:       st,
		Preprocess:  comp.Preprocess,
		Pipeline:    comp.Pipeline,
		SpanOptions: comp.SpanOptions,
		RunOptions:  comp.RunOptions,
		Recorder:    metrics.Recorder{},
		Logger:      logger,
	})

	cleanup := func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}
	return c, cleanup, nil
}
