// Package pipeline orchestrates a dataload run: partition and entity
// discovery, per-entity stage execution with critical-failure
// short-circuiting, and run-level result aggregation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Context keys stages use to hand data forward.
const (
	KeyEntityFolder     = "entity_folder"
	KeyEmbeddingsConfig = "embeddings_config"
	KeyFTSConfig        = "fts_config"
)

// Result is one stage's outcome for one entity. Payload entries are merged
// into the context handed to the following stages and stay out of the
// serialized report.
type Result struct {
	Success bool   `json:"success"`
	Time    string `json:"time"`
	Message string `json:"message"`
	Skipped bool   `json:"skipped,omitempty"`

	Payload map[string]any `json:"-"`
}

// Stage is one unit of per-entity work. Critical marks a stage whose
// failure skips the remaining stages for that entity.
type Stage interface {
	Name() string
	Critical() bool
	Process(ctx context.Context, entity string, stageCtx map[string]any) (Result, error)
}

// Execute runs one stage under the shared stage contract: elapsed time is
// stamped on the result, and any returned error or panic becomes a failed
// result carrying the fault message.
func Execute(ctx context.Context, s Stage, entity string, stageCtx map[string]any, logger *slog.Logger) Result {
	start := time.Now()
	res, err := safeProcess(ctx, s, entity, stageCtx)
	elapsed := fmt.Sprintf("%.2fs", time.Since(start).Seconds())
	if err != nil {
		res = Result{Message: fmt.Sprintf("Error: %v", err)}
	}
	res.Time = elapsed

	if res.Success {
		logger.Info("stage completed", "stage", s.Name(), "entity", entity, "time", res.Time)
	} else {
		logger.Warn("stage failed", "stage", s.Name(), "entity", entity, "time", res.Time, "message", res.Message)
	}
	return res
}

func safeProcess(ctx context.Context, s Stage, entity string, stageCtx map[string]any) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return s.Process(ctx, entity, stageCtx)
}

// SkippedResult marks a stage that was not attempted because an earlier
// critical stage failed.
func SkippedResult() Result {
	return Result{
		Success: false,
		Time:    "0.00s",
		Message: "Skipped due to previous component failure",
		Skipped: true,
	}
}
