package analysis

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/stageready/internal/domain/properties"
)

// Second-pass relaxation: on a lenient run a short checklist is not worth
// sending the homeowner back to work.
const (
	// LeniencyPassMax is the largest checklist still auto-upgraded to PASS.
	LeniencyPassMax = 2
	// ChecklistCap bounds the checklist kept on a lenient NEEDS_WORK.
	ChecklistCap = 3

	emptyPassVerdict  = "PASS / NO ACTION NEEDED. This room looks presentable and ready for listing photos."
	lenientNarrative  = "A couple quick tweaks will make this photo-ready."
	passVerdictFormat = "PASS / READY. This room is in great shape for listing photos. Optional quick tidy: %s."
)

// ApplyLeniency relaxes a NEEDS_WORK result after normalization. PASS inputs
// pass through; a checklist of LeniencyPassMax items or fewer upgrades to
// PASS, longer lists stay NEEDS_WORK with the checklist truncated.
func ApplyLeniency(r properties.Result) properties.Result {
	if r.Status != properties.ResultNeedsWork {
		return r
	}

	checklist := r.Checklist
	if checklist == nil {
		checklist = []string{}
	}

	if len(checklist) <= LeniencyPassMax {
		verdict := emptyPassVerdict
		if len(checklist) > 0 {
			verdict = fmt.Sprintf(passVerdictFormat, strings.Join(checklist, "; "))
		}
		return properties.Result{
			RoomType: r.RoomType,
			RoomName: r.RoomName,
			Status:   properties.ResultPass,
			Verdict:  verdict,
		}
	}

	narrative := r.Narrative
	if strings.TrimSpace(narrative) == "" {
		narrative = lenientNarrative
	}
	return properties.Result{
		RoomType:  r.RoomType,
		RoomName:  r.RoomName,
		Status:    properties.ResultNeedsWork,
		Narrative: narrative,
		Checklist: checklist[:ChecklistCap],
	}
}
