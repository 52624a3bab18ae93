package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// FileSource is the object-store surface the importer stage reads from.
// *s3.Client satisfies it.
type FileSource interface {
	DataFiles(ctx context.Context, folder string) ([]string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// TableLoader loads one decoded file into an entity's table. Each file
// fully replaces the table, so with several files the last one wins.
// *schema.Importer satisfies it.
type TableLoader interface {
	ImportFile(ctx context.Context, entity string, data []byte) (int64, error)
}

// ParquetImporter downloads an entity's parquet files and loads them into
// the relational store. It is the critical stage: when it fails, the rest
// of the entity's stages are skipped.
type ParquetImporter struct {
	source FileSource
	loader TableLoader
	logger *slog.Logger
}

func NewParquetImporter(source FileSource, loader TableLoader, logger *slog.Logger) *ParquetImporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetImporter{
		source: source,
		loader: loader,
		logger: logger.With("stage", "ParquetImporter"),
	}
}

func (s *ParquetImporter) Name() string   { return "ParquetImporter" }
func (s *ParquetImporter) Critical() bool { return true }

func (s *ParquetImporter) Process(ctx context.Context, entity string, stageCtx map[string]any) (Result, error) {
	folder, _ := stageCtx[KeyEntityFolder].(string)
	if folder == "" {
		return Result{Message: "No entity folder provided"}, nil
	}

	files, err := s.source.DataFiles(ctx, folder)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{Message: fmt.Sprintf("No parquet files found in %s", folder)}, nil
	}

	var rows int64
	for _, key := range files {
		data, err := s.source.Download(ctx, key)
		if err != nil {
			return Result{}, err
		}
		n, err := s.loader.ImportFile(ctx, entity, data)
		if err != nil {
			return Result{}, err
		}
		rows = n
	}
	s.logger.Info("entity loaded", "entity", entity, "files", len(files), "rows", rows)
	return Result{
		Success: true,
		Message: fmt.Sprintf("Imported %d parquet files to %s", len(files), entity),
	}, nil
}
