package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// ErrPartialExtraction accompanies a usable result that is missing the
// output of at least one failed strategy. Callers should add the result to
// what they already hold rather than replace it.
var ErrPartialExtraction = errors.New("partial extraction")

// CombinedExtractor runs several extraction strategies concurrently and
// unions their output. When some strategies fail it returns the union of the
// rest together with ErrPartialExtraction. It fails outright only when every
// strategy fails.
type CombinedExtractor struct {
	strategies []Extractor
	logger     *slog.Logger
}

// NewCombinedExtractor creates an extractor over the given strategies.
// Nil strategies are skipped.
func NewCombinedExtractor(logger *slog.Logger, strategies ...Extractor) *CombinedExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	var kept []Extractor
	for _, s := range strategies {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &CombinedExtractor{strategies: kept, logger: logger}
}

// Extract runs every strategy over history and merges the results.
func (c *CombinedExtractor) Extract(ctx context.Context, history []domain.Message) (domain.ExtractedIntelligence, error) {
	if len(c.strategies) == 0 {
		return domain.ExtractedIntelligence{}, fmt.Errorf("%w: no extraction strategies configured", domain.ErrCollaboratorFailure)
	}

	results := make([]domain.ExtractedIntelligence, len(c.strategies))
	errs := make([]error, len(c.strategies))

	// Each strategy writes to its own slot; a failed strategy does not cancel
	// the others.
	var g errgroup.Group
	for i, s := range c.strategies {
		g.Go(func() error {
			results[i], errs[i] = s.Extract(ctx, history)
			return nil
		})
	}
	_ = g.Wait()

	merged := domain.NewExtractedIntelligence()
	var failed []error
	for i, err := range errs {
		if err != nil {
			c.logger.Warn("extraction strategy failed", "strategy", fmt.Sprintf("%T", c.strategies[i]), "error", err)
			failed = append(failed, err)
			continue
		}
		merged = merged.Union(results[i])
	}
	switch len(failed) {
	case 0:
		return merged, nil
	case len(c.strategies):
		return domain.ExtractedIntelligence{}, fmt.Errorf("all extraction strategies failed: %w", errors.Join(failed...))
	default:
		return merged, fmt.Errorf("%w: %d of %d strategies failed: %w", ErrPartialExtraction, len(failed), len(c.strategies), errors.Join(failed...))
	}
}
