package analysis

import (
	"context"
	"time"

	"github.com/bryanwahyu/stageready/internal/domain/properties"
)

// MaxRuns is the per-property analysis run budget. Two runs keep the vision
// provider usage inside the free tier; run one is strict, run two lenient.
const MaxRuns = 2

// StaleClaimWindow bounds how long an analyzing claim is honored. A row
// still analyzing past the window belongs to a crashed run and may be
// reclaimed. Must match the interval in the repositories' claim statement.
const StaleClaimWindow = 10 * time.Minute

// ModeForRun returns the analysis policy for the given 1-based run number.
func ModeForRun(run int) properties.AnalysisMode {
	if run >= 2 {
		return properties.ModeLenient
	}
	return properties.ModeStrict
}

// RunRequest untuk Pipeline
type RunRequest struct {
	PropertyID properties.PropertyID
	Mode       properties.AnalysisMode
	Photos     []properties.Photo
}

// RoomOutcome is one room's raw pipeline output. Parsed is nil when the
// model response could not be parsed; downstream normalization synthesizes
// a placeholder in that case.
type RoomOutcome struct {
	RoomType properties.RoomType
	Parsed   any
}

// EmitFunc receives room outcomes as they become available. Per-room
// pipelines call it after every model round trip so each result is durable
// before the next call starts; batch pipelines call it for every room after
// the single round trip.
type EmitFunc func(ctx context.Context, out RoomOutcome) error

// Pipeline port (interface untuk vision orchestration)
type Pipeline interface {
	Analyze(ctx context.Context, req RunRequest, emit EmitFunc) error
}
