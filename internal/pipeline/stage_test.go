package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var timePattern = regexp.MustCompile(`^\d+\.\d{2}s$`)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedStage struct {
	name     string
	critical bool
	process  func(ctx context.Context, entity string, stageCtx map[string]any) (Result, error)
}

func (s *scriptedStage) Name() string   { return s.name }
func (s *scriptedStage) Critical() bool { return s.critical }

func (s *scriptedStage) Process(ctx context.Context, entity string, stageCtx map[string]any) (Result, error) {
	return s.process(ctx, entity, stageCtx)
}

func TestExecuteStampsTime(t *testing.T) {
	stage := &scriptedStage{
		name: "ok",
		process: func(context.Context, string, map[string]any) (Result, error) {
			return Result{Success: true, Message: "done"}, nil
		},
	}

	res := Execute(context.Background(), stage, "product", map[string]any{}, discardLogger())
	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Message)
	assert.Regexp(t, timePattern, res.Time)
}

func TestExecuteKeepsFailureResult(t *testing.T) {
	stage := &scriptedStage{
		name: "soft",
		process: func(context.Context, string, map[string]any) (Result, error) {
			return Result{Message: "No parquet files found in x/"}, nil
		},
	}

	res := Execute(context.Background(), stage, "product", map[string]any{}, discardLogger())
	assert.False(t, res.Success)
	assert.Equal(t, "No parquet files found in x/", res.Message)
}

func TestExecuteWrapsError(t *testing.T) {
	stage := &scriptedStage{
		name: "bad",
		process: func(context.Context, string, map[string]any) (Result, error) {
			return Result{}, errors.New("boom")
		},
	}

	res := Execute(context.Background(), stage, "product", map[string]any{}, discardLogger())
	assert.False(t, res.Success)
	assert.Equal(t, "Error: boom", res.Message)
	assert.Regexp(t, timePattern, res.Time)
}

func TestExecuteRecoversPanic(t *testing.T) {
	stage := &scriptedStage{
		name: "panicky",
		process: func(context.Context, string, map[string]any) (Result, error) {
			panic("kaboom")
		},
	}

	res := Execute(context.Background(), stage, "product", map[string]any{}, discardLogger())
	require.False(t, res.Success)
	assert.Equal(t, "Error: kaboom", res.Message)
}

func TestSkippedResult(t *testing.T) {
	res := SkippedResult()
	assert.False(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, "0.00s", res.Time)
	assert.Equal(t, "Skipped due to previous component failure", res.Message)
}
