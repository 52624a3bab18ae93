package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/fts"
)

// SearchIndexer rebuilds the full-text search companion of a loaded table.
// *fts.Manager satisfies it.
type SearchIndexer interface {
	Populate(ctx context.Context, table string) (int64, error)
}

// FTSGenerator builds the full-text search table for an entity.
type FTSGenerator struct {
	index  SearchIndexer
	logger *slog.Logger
}

func NewFTSGenerator(index SearchIndexer, logger *slog.Logger) *FTSGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FTSGenerator{index: index, logger: logger.With("stage", "FTSGenerator")}
}

func (s *FTSGenerator) Name() string   { return "FTSGenerator" }
func (s *FTSGenerator) Critical() bool { return false }

func (s *FTSGenerator) Process(ctx context.Context, entity string, _ map[string]any) (Result, error) {
	count, err := s.index.Populate(ctx, entity)
	if err != nil {
		s.logger.Warn("fts generation failed", "entity", entity, "err", err)
		return Result{Message: fmt.Sprintf("Failed to generate FTS vectors for %s", entity)}, nil
	}
	s.logger.Info("fts table populated", "entity", entity, "rows", count)
	return Result{
		Success: true,
		Message: fmt.Sprintf("Generated FTS vectors for %s", entity),
		Payload: map[string]any{KeyFTSConfig: map[string]any{"table": fts.Table(entity), "rows": count}},
	}, nil
}
