package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/stageready/internal/domain/ai"
	domain "github.com/bryanwahyu/stageready/internal/domain/analysis"
	"github.com/bryanwahyu/stageready/internal/domain/properties"
	"github.com/bryanwahyu/stageready/internal/domain/runlog"
)

//
// ==== FAKES ====
//

type fakeRepo struct {
	mu    sync.Mutex
	props map[string]*properties.Property // keyed by upload token

	failedIDs []properties.PropertyID
}

func newFakeRepo(ps ...*properties.Property) *fakeRepo {
	r := &fakeRepo{props: map[string]*properties.Property{}}
	for _, p := range ps {
		r.props[p.UploadToken] = p
	}
	return r
}

func (r *fakeRepo) Create(ctx context.Context, p *properties.Property) error { return nil }

func (r *fakeRepo) GetByID(ctx context.Context, id properties.PropertyID) (*properties.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.props {
		if p.ID == id {
			return clone(p), nil
		}
	}
	return nil, properties.ErrNotFound
}

func (r *fakeRepo) GetByToken(ctx context.Context, token string) (*properties.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.props[token]
	if !ok {
		return nil, properties.ErrNotFound
	}
	return clone(p), nil
}

func (r *fakeRepo) MarkPaid(ctx context.Context, id properties.PropertyID, token string) error {
	return nil
}

func (r *fakeRepo) ReplacePhoto(ctx context.Context, id properties.PropertyID, photo properties.Photo) (*properties.Photo, error) {
	return nil, nil
}

func (r *fakeRepo) ClaimAnalysis(ctx context.Context, token string, mode properties.AnalysisMode) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.props[token]
	if !ok {
		return false, properties.ErrNotFound
	}
	// Same condition as the conditional UPDATE: an analyzing row is only
	// off limits while its claim is fresh.
	if p.AnalysisStatus == properties.AnalysisAnalyzing &&
		time.Since(p.UpdatedAt) < domain.StaleClaimWindow {
		return false, nil
	}
	p.AnalysisStatus = properties.AnalysisAnalyzing
	p.AnalysisMode = mode
	p.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRepo) UpsertResult(ctx context.Context, id properties.PropertyID, res properties.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byID(id)
	if p == nil {
		return properties.ErrNotFound
	}
	for i := range p.AnalysisResults {
		if p.AnalysisResults[i].RoomType == res.RoomType {
			p.AnalysisResults[i] = res
			return nil
		}
	}
	p.AnalysisResults = append(p.AnalysisResults, res)
	return nil
}

func (r *fakeRepo) FinishAnalysis(ctx context.Context, id properties.PropertyID, runs int, mode properties.AnalysisMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byID(id)
	if p == nil {
		return properties.ErrNotFound
	}
	p.AnalysisStatus = properties.AnalysisCompleted
	p.AnalysisCount = runs
	p.AnalysisMode = mode
	return nil
}

func (r *fakeRepo) MarkAnalysisFailed(ctx context.Context, id properties.PropertyID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byID(id)
	if p == nil {
		return properties.ErrNotFound
	}
	p.AnalysisStatus = properties.AnalysisFailed
	r.failedIDs = append(r.failedIDs, id)
	return nil
}

func (r *fakeRepo) byID(id properties.PropertyID) *properties.Property {
	for _, p := range r.props {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func clone(p *properties.Property) *properties.Property {
	cp := *p
	cp.Photos = append([]properties.Photo(nil), p.Photos...)
	cp.AnalysisResults = append([]properties.Result(nil), p.AnalysisResults...)
	return &cp
}

type fakePipeline struct {
	mu    sync.Mutex
	calls []domain.RunRequest
	run   func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error
}

func (f *fakePipeline) Analyze(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.run == nil {
		return nil
	}
	return f.run(ctx, req, emit)
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRunLog struct {
	mu      sync.Mutex
	entries []*runlog.RunError
}

func (f *fakeRunLog) Save(ctx context.Context, e *runlog.RunError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeRunLog) ListByProperty(ctx context.Context, propertyID string, limit int) ([]*runlog.RunError, error) {
	return nil, nil
}

func paidProperty(token string, photos ...properties.Photo) *properties.Property {
	return &properties.Property{
		ID:             "prop-1",
		Status:         properties.StatusPaid,
		UploadToken:    token,
		Photos:         photos,
		AnalysisStatus: properties.AnalysisPending,
	}
}

//
// ==== TESTS ====
//

func TestRequestAnalysisFirstRunStrict(t *testing.T) {
	repo := newFakeRepo(paidProperty("tok",
		properties.Photo{URL: "u1", StorageID: "s1", RoomType: properties.RoomKitchen},
		properties.Photo{URL: "u2", StorageID: "s2", RoomType: properties.RoomLivingRoom},
	))
	pipe := &fakePipeline{run: func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
		for _, ph := range req.Photos {
			out := domain.RoomOutcome{RoomType: ph.RoomType, Parsed: map[string]any{
				"status":    "NEEDS_WORK",
				"narrative": "Clutter on surfaces.",
				"checklist": []any{"Counter: clear the mail"},
			}}
			if err := emit(ctx, out); err != nil {
				return err
			}
		}
		return nil
	}}
	svc := &Service{Repo: repo, Pipeline: pipe}

	snap, err := svc.RequestAnalysis(context.Background(), "tok")
	require.NoError(t, err)

	require.Len(t, pipe.calls, 1)
	assert.Equal(t, properties.ModeStrict, pipe.calls[0].Mode)
	assert.Len(t, pipe.calls[0].Photos, 2)

	assert.Equal(t, properties.AnalysisCompleted, snap.AnalysisStatus)
	assert.Equal(t, 1, snap.AnalysisCount)
	assert.Equal(t, properties.ModeStrict, snap.AnalysisMode)
	require.Len(t, snap.AnalysisResults, 2)
	// Strict run: a one-item checklist stays NEEDS_WORK.
	assert.Equal(t, properties.ResultNeedsWork, snap.AnalysisResults[0].Status)
}

func TestRequestAnalysisSecondRunLenientDelta(t *testing.T) {
	p := paidProperty("tok",
		properties.Photo{URL: "u1", StorageID: "s1", RoomType: properties.RoomKitchen},
		properties.Photo{URL: "u2", StorageID: "s2", RoomType: properties.RoomLivingRoom},
	)
	p.AnalysisCount = 1
	p.AnalysisStatus = properties.AnalysisCompleted
	p.AnalysisMode = properties.ModeStrict
	p.AnalysisResults = []properties.Result{{
		RoomType: properties.RoomLivingRoom, RoomName: "living-room",
		Status: properties.ResultPass, Verdict: "ok",
	}}
	repo := newFakeRepo(p)

	pipe := &fakePipeline{run: func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
		return emit(ctx, domain.RoomOutcome{RoomType: properties.RoomKitchen, Parsed: map[string]any{
			"status":    "NEEDS_WORK",
			"checklist": []any{"Sink: hide the sponge", "Counter: stow the toaster"},
		}})
	}}
	svc := &Service{Repo: repo, Pipeline: pipe}

	snap, err := svc.RequestAnalysis(context.Background(), "tok")
	require.NoError(t, err)

	// Only the room without a stored result is re-sent.
	require.Len(t, pipe.calls, 1)
	require.Len(t, pipe.calls[0].Photos, 1)
	assert.Equal(t, properties.RoomKitchen, pipe.calls[0].Photos[0].RoomType)
	assert.Equal(t, properties.ModeLenient, pipe.calls[0].Mode)

	assert.Equal(t, 2, snap.AnalysisCount)
	assert.Equal(t, properties.ModeLenient, snap.AnalysisMode)

	// Two-item checklist on a lenient run is upgraded to PASS.
	var kitchen *properties.Result
	for i := range snap.AnalysisResults {
		if snap.AnalysisResults[i].RoomType == properties.RoomKitchen {
			kitchen = &snap.AnalysisResults[i]
		}
	}
	require.NotNil(t, kitchen)
	assert.Equal(t, properties.ResultPass, kitchen.Status)
	assert.Contains(t, kitchen.Verdict, "Sink: hide the sponge")
}

func TestRequestAnalysisNoPhotos(t *testing.T) {
	repo := newFakeRepo(paidProperty("tok"))
	svc := &Service{Repo: repo, Pipeline: &fakePipeline{}}

	_, err := svc.RequestAnalysis(context.Background(), "tok")
	assert.ErrorIs(t, err, properties.ErrNoPhotos)
}

func TestRequestAnalysisUnknownToken(t *testing.T) {
	svc := &Service{Repo: newFakeRepo(), Pipeline: &fakePipeline{}}
	_, err := svc.RequestAnalysis(context.Background(), "nope")
	assert.ErrorIs(t, err, properties.ErrNotFound)
}

func TestRequestAnalysisBudgetExceeded(t *testing.T) {
	p := paidProperty("tok", properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen})
	p.AnalysisCount = domain.MaxRuns
	p.AnalysisStatus = properties.AnalysisCompleted
	p.AnalysisMode = properties.ModeLenient
	p.AnalysisResults = []properties.Result{{RoomType: properties.RoomKitchen, Status: properties.ResultPass, Verdict: "ok"}}
	repo := newFakeRepo(p)
	pipe := &fakePipeline{}
	svc := &Service{Repo: repo, Pipeline: pipe}

	snap, err := svc.RequestAnalysis(context.Background(), "tok")
	assert.ErrorIs(t, err, properties.ErrRunBudgetExceeded)
	assert.Zero(t, pipe.callCount())

	// The snapshot still carries the last persisted results.
	assert.Equal(t, MsgBudgetExceeded, snap.Message)
	assert.Equal(t, 2, snap.AnalysisCount)
	assert.Len(t, snap.AnalysisResults, 1)
}

func TestRequestAnalysisInFlight(t *testing.T) {
	p := paidProperty("tok", properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen})
	p.AnalysisStatus = properties.AnalysisAnalyzing
	p.UpdatedAt = time.Now()
	repo := newFakeRepo(p)
	pipe := &fakePipeline{}
	svc := &Service{Repo: repo, Pipeline: pipe}

	snap, err := svc.RequestAnalysis(context.Background(), "tok")
	require.NoError(t, err)
	assert.Zero(t, pipe.callCount())
	assert.Equal(t, properties.AnalysisAnalyzing, snap.AnalysisStatus)
	assert.Equal(t, msgInFlight, snap.Message)
}

// A row stuck in analyzing past the staleness window belongs to a crashed
// run and must be reclaimable.
func TestRequestAnalysisReclaimsStaleClaim(t *testing.T) {
	p := paidProperty("tok", properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen})
	p.AnalysisStatus = properties.AnalysisAnalyzing
	p.UpdatedAt = time.Now().Add(-30 * time.Minute)
	repo := newFakeRepo(p)
	pipe := &fakePipeline{run: func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
		return emit(ctx, domain.RoomOutcome{RoomType: properties.RoomKitchen, Parsed: map[string]any{"status": "PASS"}})
	}}
	svc := &Service{Repo: repo, Pipeline: pipe}

	snap, err := svc.RequestAnalysis(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 1, pipe.callCount())
	assert.Equal(t, properties.AnalysisCompleted, snap.AnalysisStatus)
	assert.Equal(t, 1, snap.AnalysisCount)
}

func TestRequestAnalysisNothingChanged(t *testing.T) {
	p := paidProperty("tok", properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen})
	p.AnalysisCount = 1
	p.AnalysisStatus = properties.AnalysisCompleted
	p.AnalysisResults = []properties.Result{{RoomType: properties.RoomKitchen, Status: properties.ResultPass, Verdict: "ok"}}
	repo := newFakeRepo(p)
	pipe := &fakePipeline{}
	svc := &Service{Repo: repo, Pipeline: pipe}

	snap, err := svc.RequestAnalysis(context.Background(), "tok")
	require.NoError(t, err)
	assert.Zero(t, pipe.callCount())
	assert.Equal(t, msgNothingChanged, snap.Message)
	// Skips do not consume budget.
	assert.Equal(t, 1, snap.AnalysisCount)
}

func TestRequestAnalysisPipelineFailure(t *testing.T) {
	p := paidProperty("tok",
		properties.Photo{URL: "u1", StorageID: "s1", RoomType: properties.RoomKitchen},
		properties.Photo{URL: "u2", StorageID: "s2", RoomType: properties.RoomLivingRoom},
	)
	repo := newFakeRepo(p)
	errs := &fakeRunLog{}

	// One room lands before the run dies; its result must survive.
	pipe := &fakePipeline{run: func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
		if err := emit(ctx, domain.RoomOutcome{RoomType: properties.RoomKitchen, Parsed: map[string]any{"status": "PASS"}}); err != nil {
			return err
		}
		return ai.ErrRateLimited
	}}
	svc := &Service{Repo: repo, Pipeline: pipe, Errors: errs}

	_, err := svc.RequestAnalysis(context.Background(), "tok")
	assert.ErrorIs(t, err, ai.ErrRateLimited)

	stored, getErr := repo.GetByToken(context.Background(), "tok")
	require.NoError(t, getErr)
	assert.Equal(t, properties.AnalysisFailed, stored.AnalysisStatus)
	// Failed runs do not consume budget.
	assert.Equal(t, 0, stored.AnalysisCount)
	require.Len(t, stored.AnalysisResults, 1)
	assert.Equal(t, properties.RoomKitchen, stored.AnalysisResults[0].RoomType)

	require.Len(t, errs.entries, 1)
	assert.Equal(t, "pipeline", errs.entries[0].Phase)
	assert.True(t, strings.Contains(errs.entries[0].Message, "rate"))
}

func TestRequestAnalysisLostClaimRace(t *testing.T) {
	p := paidProperty("tok", properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen})
	repo := newFakeRepo(p)

	entered := make(chan struct{})
	release := make(chan struct{})
	pipe := &fakePipeline{run: func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
		close(entered)
		<-release
		return emit(ctx, domain.RoomOutcome{RoomType: properties.RoomKitchen, Parsed: map[string]any{"status": "PASS"}})
	}}
	svc := &Service{Repo: repo, Pipeline: pipe}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.RequestAnalysis(context.Background(), "tok")
		assert.NoError(t, err)
	}()

	<-entered
	// Run is in flight: every other request must be turned away without
	// touching the pipeline.
	for i := 0; i < 4; i++ {
		snap, err := svc.RequestAnalysis(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, msgInFlight, snap.Message)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, 1, pipe.callCount())
	stored, err := repo.GetByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, properties.AnalysisCompleted, stored.AnalysisStatus)
	assert.Equal(t, 1, stored.AnalysisCount)
}

func TestRequestAnalysisFinishPersistFailure(t *testing.T) {
	p := paidProperty("tok", properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen})
	repo := newFakeRepo(p)
	boom := errors.New("db down")
	svc := &Service{Repo: repo, Pipeline: &fakePipeline{}}

	failing := &finishFailRepo{fakeRepo: repo, err: boom}
	svc.Repo = failing

	_, err := svc.RequestAnalysis(context.Background(), "tok")
	assert.ErrorIs(t, err, boom)

	stored, getErr := repo.GetByToken(context.Background(), "tok")
	require.NoError(t, getErr)
	assert.Equal(t, properties.AnalysisFailed, stored.AnalysisStatus)
}

type finishFailRepo struct {
	*fakeRepo
	err error
}

func (r *finishFailRepo) FinishAnalysis(ctx context.Context, id properties.PropertyID, runs int, mode properties.AnalysisMode) error {
	return r.err
}

type recordingMetrics struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    int
}

func (m *recordingMetrics) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) RunCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *recordingMetrics) RunFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

// Run counters only move for claimed runs; skips and budget rejections
// leave them alone.
func TestRunMetricsCountClaimedRunsOnly(t *testing.T) {
	ctx := context.Background()
	photo := properties.Photo{URL: "u", StorageID: "s", RoomType: properties.RoomKitchen}

	// Successful run: one started, one completed.
	metrics := &recordingMetrics{}
	repo := newFakeRepo(paidProperty("tok", photo))
	svc := &Service{Repo: repo, Pipeline: &fakePipeline{}, Metrics: metrics}
	_, err := svc.RequestAnalysis(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.started)
	assert.Equal(t, 1, metrics.completed)
	assert.Equal(t, 0, metrics.failed)

	// Failed run: one started, one failed.
	metrics = &recordingMetrics{}
	repo = newFakeRepo(paidProperty("tok", photo))
	svc = &Service{Repo: repo, Pipeline: &fakePipeline{run: func(ctx context.Context, req domain.RunRequest, emit domain.EmitFunc) error {
		return ai.ErrRateLimited
	}}, Metrics: metrics}
	_, err = svc.RequestAnalysis(ctx, "tok")
	require.Error(t, err)
	assert.Equal(t, 1, metrics.started)
	assert.Equal(t, 0, metrics.completed)
	assert.Equal(t, 1, metrics.failed)

	// In-flight, budget-exceeded and nothing-changed never touch a counter.
	metrics = &recordingMetrics{}
	inflight := paidProperty("tok", photo)
	inflight.AnalysisStatus = properties.AnalysisAnalyzing
	inflight.UpdatedAt = time.Now()
	svc = &Service{Repo: newFakeRepo(inflight), Pipeline: &fakePipeline{}, Metrics: metrics}
	_, err = svc.RequestAnalysis(ctx, "tok")
	require.NoError(t, err)

	spent := paidProperty("tok2", photo)
	spent.AnalysisStatus = properties.AnalysisCompleted
	spent.AnalysisCount = domain.MaxRuns
	svc.Repo = newFakeRepo(spent)
	_, err = svc.RequestAnalysis(ctx, "tok2")
	assert.ErrorIs(t, err, properties.ErrRunBudgetExceeded)

	done := paidProperty("tok3", photo)
	done.AnalysisStatus = properties.AnalysisCompleted
	done.AnalysisCount = 1
	done.AnalysisResults = []properties.Result{{RoomType: properties.RoomKitchen, Status: properties.ResultPass, Verdict: "ok"}}
	svc.Repo = newFakeRepo(done)
	_, err = svc.RequestAnalysis(ctx, "tok3")
	require.NoError(t, err)

	assert.Equal(t, 0, metrics.started)
	assert.Equal(t, 0, metrics.completed)
	assert.Equal(t, 0, metrics.failed)
}

func TestModeForRun(t *testing.T) {
	assert.Equal(t, properties.ModeStrict, domain.ModeForRun(1))
	assert.Equal(t, properties.ModeLenient, domain.ModeForRun(2))
	assert.Equal(t, properties.ModeLenient, domain.ModeForRun(3))
}
