package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/bryanwahyu/stageready/internal/application"
	domain "github.com/bryanwahyu/stageready/internal/domain/analysis"
	"github.com/bryanwahyu/stageready/internal/domain/properties"
	"github.com/bryanwahyu/stageready/internal/domain/runlog"
)

// Service implements the analysis run controller. One call to
// RequestAnalysis is one logical run: budget check, delta computation,
// atomic claim, pipeline invocation, merge, terminal transition.
// Service is designed to be used concurrently and is thread-safe.
type Service struct {
	Repo     properties.Repository
	Pipeline domain.Pipeline
	Errors   runlog.Repository // optional run-error audit log
	Metrics  RunMetrics        // optional run counters
	Clock    application.Clock
}

// RunMetrics receives run lifecycle events. Only claimed runs count;
// benign skips and budget rejections never reach it.
type RunMetrics interface {
	RunStarted()
	RunCompleted()
	RunFailed()
}

// Snapshot is the wire shape returned for every analyze outcome, including
// benign skips (in-flight, nothing changed) and the budget-exceeded error.
type Snapshot struct {
	AnalysisStatus  properties.AnalysisStatus `json:"analysisStatus"`
	AnalysisResults []properties.Result       `json:"analysisResults"`
	AnalysisCount   int                       `json:"analysisCount"`
	AnalysisMode    properties.AnalysisMode   `json:"analysisMode"`
	Message         string                    `json:"message,omitempty"`
}

const (
	msgInFlight       = "Analysis already in progress."
	msgNothingChanged = "No changed rooms to reanalyze."
	// MsgBudgetExceeded is shown alongside the 429 when the run budget is spent.
	MsgBudgetExceeded = "Free analysis limit reached for this property. We only run the AI up to 2 times per property."
)

func snapshotOf(p *properties.Property, msg string) Snapshot {
	results := p.AnalysisResults
	if results == nil {
		results = []properties.Result{}
	}
	status := p.AnalysisStatus
	if status == "" {
		status = properties.AnalysisPending
	}
	mode := p.AnalysisMode
	if mode == "" {
		mode = properties.ModeStrict
	}
	return Snapshot{
		AnalysisStatus:  status,
		AnalysisResults: results,
		AnalysisCount:   p.AnalysisCount,
		AnalysisMode:    mode,
		Message:         msg,
	}
}

//
// ==== USE CASES ====
//

// RequestAnalysis runs the analysis pipeline for the property behind the
// upload token. Benign skips return a snapshot with a nil error; the
// budget-exceeded case returns the current snapshot together with
// properties.ErrRunBudgetExceeded so the transport can pair the 429 with
// the last persisted results.
func (s *Service) RequestAnalysis(ctx context.Context, token string) (Snapshot, error) {
	p, err := s.Repo.GetByToken(ctx, token)
	if err != nil {
		return Snapshot{}, err
	}
	if len(p.Photos) == 0 {
		return Snapshot{}, properties.ErrNoPhotos
	}

	// Duplicate-request suppression: a run is already in flight. A claim
	// older than the staleness window belongs to a crashed run, so fall
	// through and let the conditional update decide who owns it.
	if p.AnalysisStatus == properties.AnalysisAnalyzing &&
		s.now().Sub(p.UpdatedAt) < domain.StaleClaimWindow {
		return snapshotOf(p, msgInFlight), nil
	}

	if p.AnalysisCount >= domain.MaxRuns {
		return snapshotOf(p, MsgBudgetExceeded), properties.ErrRunBudgetExceeded
	}

	delta := deltaSet(p)
	if p.AnalysisCount > 0 && len(delta) == 0 {
		// Nothing changed since the last run; do not consume budget.
		return snapshotOf(p, msgNothingChanged), nil
	}

	nextRun := p.AnalysisCount + 1
	mode := domain.ModeForRun(nextRun)

	// Sole concurrency guard: a single conditional update flips the status
	// to analyzing. Losing the race means another request owns the run.
	claimed, err := s.Repo.ClaimAnalysis(ctx, token, mode)
	if err != nil {
		return Snapshot{}, err
	}
	if !claimed {
		p.AnalysisStatus = properties.AnalysisAnalyzing
		return snapshotOf(p, msgInFlight), nil
	}

	if s.Metrics != nil {
		s.Metrics.RunStarted()
	}

	req := domain.RunRequest{
		PropertyID: p.ID,
		Mode:       mode,
		Photos:     delta,
	}

	// Each emitted room is normalized, policy-adjusted and persisted before
	// the pipeline moves on, so a crash mid-run keeps completed rooms.
	emit := func(ctx context.Context, out domain.RoomOutcome) error {
		res := domain.Normalize(out.Parsed, out.RoomType)
		if mode == properties.ModeLenient {
			res = domain.ApplyLeniency(res)
		}
		return s.Repo.UpsertResult(ctx, p.ID, res)
	}

	if err := s.Pipeline.Analyze(ctx, req, emit); err != nil {
		s.failRun(p.ID, "pipeline", err)
		return Snapshot{}, err
	}

	if err := s.Repo.FinishAnalysis(ctx, p.ID, nextRun, mode); err != nil {
		s.failRun(p.ID, "persist", err)
		return Snapshot{}, err
	}
	if s.Metrics != nil {
		s.Metrics.RunCompleted()
	}

	fresh, err := s.Repo.GetByToken(ctx, token)
	if err != nil {
		// Run finished; reload is only for the response body.
		log.Printf("analysis reload after completion failed property=%s err=%v", p.ID, err)
		p.AnalysisStatus = properties.AnalysisCompleted
		p.AnalysisCount = nextRun
		p.AnalysisMode = mode
		return snapshotOf(p, ""), nil
	}
	return snapshotOf(fresh, ""), nil
}

// deltaSet returns the photos needing (re)analysis: all photos on a first
// run, otherwise only rooms without a stored result.
func deltaSet(p *properties.Property) []properties.Photo {
	if p.AnalysisCount == 0 {
		return p.Photos
	}
	var out []properties.Photo
	for _, ph := range p.Photos {
		if p.ResultFor(ph.RoomType) == nil {
			out = append(out, ph)
		}
	}
	return out
}

// failRun makes sure every pipeline exit path leaves an observable failed
// state. Uses a fresh context so a canceled request cannot skip the write.
func (s *Service) failRun(id properties.PropertyID, phase string, cause error) {
	if s.Metrics != nil {
		s.Metrics.RunFailed()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Repo.MarkAnalysisFailed(ctx, id); err != nil {
		log.Printf("mark analysis failed error property=%s err=%v (original: %v)", id, err, cause)
	}

	if s.Errors == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	entry := &runlog.RunError{
		PropertyID:  string(id),
		Phase:       phase,
		Message:     fmt.Sprintf("analysis run failed: %v", cause),
		DetailsJSON: string(details),
		CreatedAt:   s.now(),
	}
	if err := s.Errors.Save(ctx, entry); err != nil {
		log.Printf("run error log save failed property=%s err=%v", id, err)
	}
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}
