package runlog

import "time"

// RunError represents a persisted analysis-run error entry
type RunError struct {
	ID          int64     `json:"id"`
	PropertyID  string    `json:"property_id"`
	Phase       string    `json:"phase,omitempty"` // claim | pipeline | persist
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}
