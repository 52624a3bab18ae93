package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// EntityFolder pairs a canonical entity name with its source folder prefix.
type EntityFolder struct {
	Entity string
	Folder string
}

// Source discovers the run's input folders. *s3.Client satisfies it.
type Source interface {
	LatestPartition(ctx context.Context) (string, error)
	EntityFolders(ctx context.Context, partition string) ([]string, error)
}

// Namer maps a raw folder name to its canonical entity name, which doubles
// as the target table name. *schema.Importer satisfies it.
type Namer interface {
	TableFor(folder string) string
}

// Options select what one run processes.
type Options struct {
	Partition    string // partition override; empty selects the latest
	EntityFilter string // restrict the run to one entity; empty processes all
}

// Pipeline coordinates one dataload run: discovery, the per-entity stage
// loop and aggregation. Entities and stages run strictly sequentially.
type Pipeline struct {
	source Source
	namer  Namer
	stages []Stage
	logger *slog.Logger
}

func New(source Source, namer Namer, stages []Stage, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source: source,
		namer:  namer,
		stages: stages,
		logger: logger.With("component", "pipeline"),
	}
}

// Run executes the pipeline and always returns a complete report. Discovery
// coming up empty is reported as a failed run with a descriptive message,
// never as a crash, and a failing entity does not stop its siblings.
func (p *Pipeline) Run(ctx context.Context, opts Options) *RunResult {
	start := time.Now()
	run := &RunResult{
		RunID:             newRunID(start),
		AvailableEntities: []string{},
		Entities:          []EntityResult{},
	}
	p.logger.Info("pipeline run starting", "runId", run.RunID)

	partition := opts.Partition
	if partition == "" {
		latest, err := p.source.LatestPartition(ctx)
		if err != nil {
			p.logger.Error("partition discovery failed", "err", err)
		}
		if err != nil || latest == "" {
			return p.finish(run, start, "No date folder found in S3")
		}
		partition = latest
	}
	if !strings.HasSuffix(partition, "/") {
		partition += "/"
	}
	run.Partition = partition
	p.logger.Info("processing partition", "partition", partition)

	folders, err := p.source.EntityFolders(ctx, partition)
	if err != nil {
		p.logger.Error("entity discovery failed", "partition", partition, "err", err)
	}
	if err != nil || len(folders) == 0 {
		return p.finish(run, start, fmt.Sprintf("No entity folders found in %s", partition))
	}

	targets := make([]EntityFolder, 0, len(folders))
	for _, folder := range folders {
		raw := strings.TrimSuffix(strings.TrimPrefix(folder, partition), "/")
		if raw == "" || strings.Contains(raw, "/") {
			p.logger.Warn("discarding unexpected folder", "prefix", folder)
			continue
		}
		targets = append(targets, EntityFolder{Entity: p.namer.TableFor(raw), Folder: folder})
	}
	for _, t := range targets {
		run.AvailableEntities = append(run.AvailableEntities, t.Entity)
	}

	if opts.EntityFilter != "" {
		filtered := targets[:0:0]
		for _, t := range targets {
			if t.Entity == opts.EntityFilter {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == 0 {
			return p.finish(run, start, fmt.Sprintf("Entity '%s' not found in %s", opts.EntityFilter, partition))
		}
		targets = filtered
	}

	for _, t := range targets {
		run.Entities = append(run.Entities, p.processEntity(ctx, t))
	}

	stats := Stats{Total: len(run.Entities)}
	for _, e := range run.Entities {
		if e.Success {
			stats.Success++
		} else {
			stats.Failed++
		}
	}
	run.Stats = stats
	run.Success = stats.Total > 0 && stats.Failed == 0

	switch {
	case stats.Total == 0:
		return p.finish(run, start, "No entities processed")
	case stats.Failed == 0:
		return p.finish(run, start, fmt.Sprintf("Successfully processed %d entities", stats.Total))
	default:
		return p.finish(run, start, fmt.Sprintf("Completed with errors in some entities (%d processed)", stats.Total))
	}
}

// processEntity runs the stage sequence for one entity. A critical stage
// failure marks the remaining stages skipped; a non-critical failure only
// flips the entity's success flag.
func (p *Pipeline) processEntity(ctx context.Context, target EntityFolder) EntityResult {
	start := time.Now()
	p.logger.Info("processing entity", "entity", target.Entity, "folder", target.Folder)

	res := EntityResult{
		Entity:  target.Entity,
		Folder:  target.Folder,
		Stages:  make(map[string]Result, len(p.stages)),
		Success: true,
	}
	stageCtx := map[string]any{KeyEntityFolder: target.Folder}

	skipRest := false
	for _, stage := range p.stages {
		if skipRest {
			res.Stages[stage.Name()] = SkippedResult()
			continue
		}
		sr := Execute(ctx, stage, target.Entity, stageCtx, p.logger)
		res.Stages[stage.Name()] = sr
		for k, v := range sr.Payload {
			stageCtx[k] = v
		}
		if !sr.Success {
			res.Success = false
			if stage.Critical() {
				p.logger.Warn("critical stage failed, skipping remaining stages",
					"entity", target.Entity, "stage", stage.Name())
				skipRest = true
			}
		}
	}

	res.TotalTime = fmt.Sprintf("%.2fs", time.Since(start).Seconds())
	return res
}

func (p *Pipeline) finish(run *RunResult, start time.Time, message string) *RunResult {
	run.Message = message
	run.TotalTime = fmt.Sprintf("%.2fs", time.Since(start).Seconds())
	if run.Success {
		p.logger.Info("pipeline run finished", "runId", run.RunID, "message", message, "time", run.TotalTime)
	} else {
		p.logger.Warn("pipeline run finished", "runId", run.RunID, "message", message, "time", run.TotalTime)
	}
	return run
}
