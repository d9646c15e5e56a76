package runlog

import (
	"context"
)

// Repository defines persistence for analysis run errors
type Repository interface {
	Save(ctx context.Context, e *RunError) error
	ListByProperty(ctx context.Context, propertyID string, limit int) ([]*RunError, error)
}
