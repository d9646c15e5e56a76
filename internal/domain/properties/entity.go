package properties

import (
	"time"
)

// ID tipe untuk Property
type PropertyID string

// RoomType enum: the fixed set of rooms the service stages
type RoomType string

const (
	RoomKitchen         RoomType = "kitchen"
	RoomLivingRoom      RoomType = "living-room"
	RoomPrimaryBedroom  RoomType = "primary-bedroom"
	RoomPrimaryBathroom RoomType = "primary-bathroom"
)

// RoomTypes lists every supported room type in presentation order.
var RoomTypes = []RoomType{RoomKitchen, RoomLivingRoom, RoomPrimaryBedroom, RoomPrimaryBathroom}

// ValidRoomType reports whether rt is one of the supported rooms.
func ValidRoomType(rt RoomType) bool {
	for _, v := range RoomTypes {
		if v == rt {
			return true
		}
	}
	return false
}

// Status enum (payment gate)
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// AnalysisStatus enum (per-property analysis state machine)
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisAnalyzing AnalysisStatus = "analyzing"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// AnalysisMode enum: strict on the first run, lenient afterwards
type AnalysisMode string

const (
	ModeStrict  AnalysisMode = "strict"
	ModeLenient AnalysisMode = "lenient"
)

// Owner value object (denormalized into users table on intake)
type Owner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Photo value object. At most one photo per RoomType; a new upload for the
// same room replaces the prior one.
type Photo struct {
	URL       string   `json:"url"`
	StorageID string   `json:"storageId"`
	RoomType  RoomType `json:"roomType"`
}

// Aggregate Root: Property
type Property struct {
	ID              PropertyID     `json:"id"`
	Owner           Owner          `json:"owner"`
	Address         string         `json:"address"`
	Status          Status         `json:"status"`
	UploadToken     string         `json:"uploadToken,omitempty"`
	Photos          []Photo        `json:"photos"`
	AnalysisStatus  AnalysisStatus `json:"analysisStatus"`
	AnalysisResults []Result       `json:"analysisResults"`
	AnalysisCount   int            `json:"analysisCount"`
	AnalysisMode    AnalysisMode   `json:"analysisMode"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// PhotoFor returns the photo uploaded for the given room, if any.
func (p *Property) PhotoFor(rt RoomType) *Photo {
	for i := range p.Photos {
		if p.Photos[i].RoomType == rt {
			return &p.Photos[i]
		}
	}
	return nil
}

// ResultFor returns the stored analysis result for the given room, if any.
func (p *Property) ResultFor(rt RoomType) *Result {
	for i := range p.AnalysisResults {
		if p.AnalysisResults[i].RoomType == rt {
			return &p.AnalysisResults[i]
		}
	}
	return nil
}
