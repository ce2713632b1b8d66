// Package cli wires configured memory managers and provides the
// interactive inspection shell and the JSONL replay used by cmd/aimem.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hession/aimem/internal/config"
	"github.com/hession/aimem/internal/llm"
	"github.com/hession/aimem/internal/logger"
	"github.com/hession/aimem/internal/memory"
)

const (
	Version = "0.1.0"

	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// Options overrides the services Open would otherwise build from config
type Options struct {
	// SessionID to resume; a new id is generated when empty
	SessionID string

	Completer memory.Completer
	Embedder  memory.Embedder
	Sessions  memory.SessionStore
	Vectors   memory.VectorStore

	// OnWarning receives asynchronous manager warnings
	OnWarning func(error)
}

// App is a memory manager together with the stores it owns
type App struct {
	Manager  *memory.Manager
	Sessions memory.SessionStore
	Config   *config.Config

	closers []io.Closer
}

// Open builds the stores, blocks and manager described by cfg
func Open(cfg *config.Config, prompts *config.PromptConfig, opts Options) (*App, error) {
	if prompts == nil {
		prompts = config.DefaultPromptConfig()
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.closeStores()
		}
	}()

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = memory.NewSessionID()
	}

	if opts.Sessions == nil {
		store, err := memory.NewSQLiteSessionStore(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
		app.closers = append(app.closers, store)
		opts.Sessions = store
	}
	app.Sessions = opts.Sessions

	blocks, err := app.buildBlocks(prompts, sessionID, &opts)
	if err != nil {
		return nil, err
	}

	var managerOpts []memory.Option
	if opts.OnWarning != nil {
		managerOpts = append(managerOpts, memory.WithWarningHandler(opts.OnWarning))
	}
	if opts.SessionID != "" {
		managerOpts = append(managerOpts, memory.WithRestoredHistory(context.Background()))
	}

	m, err := memory.NewManager(memory.Config{
		SessionID: sessionID,
		Budget: memory.Budget{
			TokenLimit:            cfg.Memory.TokenLimit,
			ChatHistoryTokenRatio: cfg.Memory.ChatHistoryTokenRatio,
			TokenFlushSize:        cfg.Memory.TokenFlushSize,
		},
		InsertMethod:       memory.InsertMethod(cfg.Memory.InsertMethod),
		Blocks:             blocks,
		RetrievalTimeout:   time.Duration(cfg.Memory.RetrievalTimeoutSec) * time.Second,
		IngestTimeout:      time.Duration(cfg.Memory.IngestTimeoutSec) * time.Second,
		ResetClearsSession: cfg.Memory.ResetClearsSession,
		Sessions:           opts.Sessions,
	}, managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory manager: %w", err)
	}
	app.Manager = m

	ok = true
	return app, nil
}

// buildBlocks creates one memory block per configured entry. LLM clients and
// the vector store are only created when a block needs them. Fact blocks
// reload their persisted facts when the session store can hold them.
func (a *App) buildBlocks(prompts *config.PromptConfig, sessionID string, opts *Options) ([]memory.BlockSpec, error) {
	cfg := a.Config
	specs := make([]memory.BlockSpec, 0, len(cfg.Memory.Blocks))

	for _, bc := range cfg.Memory.Blocks {
		var block memory.Block
		var err error

		switch bc.Type {
		case config.BlockTypeStatic:
			block = memory.NewStaticBlock(bc.Content)

		case config.BlockTypeFacts:
			if opts.Completer == nil {
				if !cfg.IsAPIKeyConfigured() {
					logger.Warn("Fact block %q has no API key configured; extraction will fail", bc.Name)
				}
				opts.Completer = llm.New(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model,
					cfg.Model.Temperature, cfg.Model.MaxTokens)
			}
			factStore, _ := opts.Sessions.(memory.FactStore)
			var fb *memory.FactBlock
			fb, err = memory.NewFactBlock(memory.FactBlockConfig{
				Completer:      opts.Completer,
				MaxFacts:       bc.MaxFacts,
				ExtractPrompt:  prompts.GetFactExtractPrompt(),
				CondensePrompt: prompts.GetFactCondensePrompt(),
				Store:          factStore,
				Collection:     collectionName(bc, sessionID),
			})
			if err == nil {
				err = fb.Load(context.Background())
			}
			block = fb

		case config.BlockTypeVector:
			if opts.Embedder == nil {
				opts.Embedder = llm.NewEmbeddingClient(llm.EmbeddingConfig{
					BaseURL:    cfg.Embedding.BaseURL,
					Model:      cfg.Embedding.Model,
					Dimension:  cfg.Embedding.Dimension,
					TimeoutSec: cfg.Embedding.TimeoutSec,
					MaxRetries: cfg.Embedding.MaxRetries,
				}, cfg.Embedding.APIKey)
			}
			if opts.Vectors == nil {
				store, serr := memory.NewSQLiteVectorStore(cfg.Storage.VectorDBPath)
				if serr != nil {
					return nil, fmt.Errorf("failed to initialize vector store: %w", serr)
				}
				a.closers = append(a.closers, store)
				opts.Vectors = store
			}
			block, err = memory.NewVectorBlock(memory.VectorBlockConfig{
				Embedder:               opts.Embedder,
				Store:                  opts.Vectors,
				Collection:             collectionName(bc, sessionID),
				SimilarityTopK:         bc.SimilarityTopK,
				RetrievalContextWindow: bc.RetrievalContextWindow,
			})

		default:
			return nil, fmt.Errorf("block %q has unknown type %q", bc.Name, bc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", bc.Name, err)
		}

		specs = append(specs, memory.BlockSpec{Name: bc.Name, Priority: bc.Priority, Block: block})
	}
	return specs, nil
}

// collectionName scopes persisted block state to the session unless the
// block names a shared collection
func collectionName(bc config.BlockConfig, sessionID string) string {
	if bc.Collection != "" {
		return bc.Collection
	}
	return sessionID + ":" + bc.Name
}

// Close stops the manager and closes the stores Open created
func (a *App) Close() error {
	var errs []error
	if a.Manager != nil {
		errs = append(errs, a.Manager.Close())
	}
	errs = append(errs, a.closeStores())
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
