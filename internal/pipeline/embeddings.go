package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/vectorstore"
)

// VectorIndexer generates and stores embeddings for a loaded table.
// *vectorstore.Manager satisfies it.
type VectorIndexer interface {
	Generate(ctx context.Context, table string) (int, vectorstore.TableConfig, error)
}

// EmbeddingsGenerator derives per-row embeddings for an entity's table and
// publishes the resolved storage configuration to the later stages.
type EmbeddingsGenerator struct {
	vectors VectorIndexer
	logger  *slog.Logger
}

func NewEmbeddingsGenerator(vectors VectorIndexer, logger *slog.Logger) *EmbeddingsGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingsGenerator{vectors: vectors, logger: logger.With("stage", "EmbeddingsGenerator")}
}

func (s *EmbeddingsGenerator) Name() string   { return "EmbeddingsGenerator" }
func (s *EmbeddingsGenerator) Critical() bool { return false }

func (s *EmbeddingsGenerator) Process(ctx context.Context, entity string, _ map[string]any) (Result, error) {
	count, cfg, err := s.vectors.Generate(ctx, entity)
	switch {
	case errors.Is(err, vectorstore.ErrNoTextColumns):
		return Result{Message: fmt.Sprintf("No text columns found for %s", entity)}, nil
	case errors.Is(err, vectorstore.ErrNoRows):
		return Result{Message: fmt.Sprintf("No data found in %s", entity)}, nil
	case err != nil:
		s.logger.Warn("embedding generation failed", "entity", entity, "err", err)
		return Result{Message: fmt.Sprintf("Failed to store embeddings for %s", entity)}, nil
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Generated embeddings for %d rows in %s", count, entity),
		Payload: map[string]any{KeyEmbeddingsConfig: cfg},
	}, nil
}
