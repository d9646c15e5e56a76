package properties

import "errors"

var (
	// ErrNotFound indicates an unknown property ID or upload token.
	ErrNotFound = errors.New("property not found")

	// ErrNotPaid indicates the property has not completed payment yet.
	ErrNotPaid = errors.New("payment not completed for this property")

	// ErrNoPhotos indicates an analysis request for a property without photos.
	ErrNoPhotos = errors.New("no photos to analyze")

	// ErrRunBudgetExceeded indicates the per-property analysis run budget
	// is exhausted. Permanent for the property.
	ErrRunBudgetExceeded = errors.New("analysis run budget exceeded")

	// ErrTokenNotIssued indicates payment completed but the upload token is
	// not minted yet.
	ErrTokenNotIssued = errors.New("upload token not yet generated")
)
