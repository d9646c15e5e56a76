package properties

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, p *Property) error
	GetByID(ctx context.Context, id PropertyID) (*Property, error)
	GetByToken(ctx context.Context, token string) (*Property, error)

	// MarkPaid flips a pending property to paid and mints its upload token.
	// The token is written only if none exists yet.
	MarkPaid(ctx context.Context, id PropertyID, uploadToken string) error

	// ReplacePhoto upserts the photo for its room type, discards that room's
	// stored analysis result, and resets the analysis status to pending
	// unless a run is currently in flight. Returns the replaced photo, if any,
	// so the caller can clean up the stored object.
	ReplacePhoto(ctx context.Context, id PropertyID, photo Photo) (*Photo, error)

	// ClaimAnalysis transitions analysisStatus to analyzing while recording
	// the run mode. The transition must be a single conditional update that
	// matches only rows not already analyzing; claimed=false means another
	// request holds the run. This is the sole concurrency guard.
	ClaimAnalysis(ctx context.Context, token string, mode AnalysisMode) (claimed bool, err error)

	// UpsertResult replaces-or-appends the result keyed by its room type.
	UpsertResult(ctx context.Context, id PropertyID, res Result) error

	// FinishAnalysis records a completed run: status, consumed run count and mode.
	FinishAnalysis(ctx context.Context, id PropertyID, runs int, mode AnalysisMode) error

	// MarkAnalysisFailed flips analysisStatus to failed. Run count is left
	// untouched so a failed run does not consume budget.
	MarkAnalysisFailed(ctx context.Context, id PropertyID) error
}

// PhotoStore port (interface untuk penyimpanan foto)
type PhotoStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Fetch(ctx context.Context, key string) (data []byte, contentType string, err error)
	Remove(ctx context.Context, key string) error
}
