package properties

import "encoding/json"

// ResultStatus enum for a per-room verdict
type ResultStatus string

const (
	ResultPass      ResultStatus = "PASS"
	ResultNeedsWork ResultStatus = "NEEDS_WORK"
)

// Result is the per-room analysis outcome, a tagged union: a PASS carries
// only a verdict, a NEEDS_WORK carries only a narrative plus checklist.
// At most one Result exists per RoomType within a property.
type Result struct {
	RoomType  RoomType     `json:"roomType"`
	RoomName  string       `json:"roomName"`
	Status    ResultStatus `json:"status"`
	Verdict   string       `json:"verdict,omitempty"`
	Narrative string       `json:"narrative,omitempty"`
	Checklist []string     `json:"checklist,omitempty"`
}

// MarshalJSON keeps the wire shape variant-exclusive: PASS emits verdict
// only, NEEDS_WORK emits narrative and a never-null checklist only.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Status == ResultPass {
		return json.Marshal(struct {
			RoomType RoomType     `json:"roomType"`
			RoomName string       `json:"roomName"`
			Status   ResultStatus `json:"status"`
			Verdict  string       `json:"verdict"`
		}{r.RoomType, r.RoomName, r.Status, r.Verdict})
	}
	checklist := r.Checklist
	if checklist == nil {
		checklist = []string{}
	}
	return json.Marshal(struct {
		RoomType  RoomType     `json:"roomType"`
		RoomName  string       `json:"roomName"`
		Status    ResultStatus `json:"status"`
		Narrative string       `json:"narrative"`
		Checklist []string     `json:"checklist"`
	}{r.RoomType, r.RoomName, r.Status, r.Narrative, checklist})
}
