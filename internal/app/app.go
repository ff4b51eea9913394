// Package app assembles the runtime components shared by the server and the
// operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/config"
	"github.com/ashureev/scam-honeypot/internal/evaluation"
	"github.com/ashureev/scam-honeypot/internal/store"
)

// Components are the engine's dependencies built from configuration.
type Components struct {
	Repo          store.Repository
	Collaborators agent.Collaborators
	// Gemini is nil when no API key is configured.
	Gemini    *agent.GeminiClient
	Submitter evaluation.Submitter

	closers []func()
}

// Open builds every component. On error, whatever was opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{}

	repo, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.Repo = repo
	c.closers = append(c.closers, func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	})

	persona, err := agent.LoadPersona(cfg.PersonaFile)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load persona: %w", err)
	}

	c.Collaborators, c.Gemini, err = BuildCollaborators(ctx, cfg, persona, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build collaborators: %w", err)
	}

	sub, closeSub, err := BuildSubmitter(cfg, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build submitter: %w", err)
	}
	c.Submitter = sub
	c.closers = append(c.closers, closeSub)

	return c, nil
}

// Close releases components in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// OpenStore returns the repository selected by STORE_BACKEND.
func OpenStore(cfg *config.Config) (store.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendSQLite:
		return store.NewSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// BuildCollaborators wires Gemini when a key is configured and falls back to
// the keyword heuristics otherwise.
func BuildCollaborators(ctx context.Context, cfg *config.Config, persona agent.Persona, logger *slog.Logger) (agent.Collaborators, *agent.GeminiClient, error) {
	heuristic := agent.NewHeuristicExtractor()

	if !cfg.Gemini.Enabled() {
		logger.Info("GEMINI_API_KEY not set, using heuristic collaborators")
		return agent.Collaborators{
			Classifier:  agent.NewHeuristicClassifier(),
			Responder:   agent.StaticResponder{},
			Extractor:   heuristic,
			NotesWriter: agent.NewHeuristicNotesWriter(heuristic),
			Persona:     persona,
		}, nil, nil
	}

	gemini, err := agent.NewGeminiClient(ctx, agent.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	}, logger)
	if err != nil {
		return agent.Collaborators{}, nil, err
	}

	var extractor agent.Extractor
	switch cfg.Extraction {
	case config.ExtractionModel:
		extractor = gemini
	case config.ExtractionHeuristic:
		extractor = heuristic
	default:
		extractor = agent.NewCombinedExtractor(logger, gemini, heuristic)
	}
	logger.Info("Gemini collaborators initialized", "model", cfg.Gemini.Model, "extraction", cfg.Extraction)

	return agent.Collaborators{
		Classifier:  gemini,
		Responder:   gemini,
		Extractor:   extractor,
		NotesWriter: gemini,
		Persona:     persona,
	}, gemini, nil
}

// BuildSubmitter prefers gRPC, then HTTP, then a log-only submitter.
func BuildSubmitter(cfg *config.Config, logger *slog.Logger) (evaluation.Submitter, func(), error) {
	switch {
	case cfg.Evaluation.GrpcAddr != "":
		grpcCfg := evaluation.DefaultGrpcSubmitterConfig(cfg.Evaluation.GrpcAddr)
		grpcCfg.RequestTimeout = cfg.Evaluation.Timeout
		sub, err := evaluation.NewGrpcSubmitter(grpcCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Evaluation submitter connected", "transport", "grpc", "address", cfg.Evaluation.GrpcAddr)
		return sub, sub.Close, nil
	case cfg.Evaluation.Endpoint != "":
		logger.Info("Evaluation submitter configured", "transport", "http", "endpoint", cfg.Evaluation.Endpoint)
		return evaluation.NewHTTPSubmitter(cfg.Evaluation.Endpoint, cfg.Evaluation.Timeout, logger), func() {}, nil
	default:
		logger.Warn("No evaluator configured, final reports will only be logged")
		return evaluation.NewLogSubmitter(logger), func() {}, nil
	}
}
