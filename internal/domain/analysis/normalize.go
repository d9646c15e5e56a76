package analysis

import (
	"strings"

	"github.com/bryanwahyu/stageready/internal/domain/properties"
)

// Fixed copy used when the model gave us nothing usable, or left fields out.
const (
	FallbackNarrative = "Analysis could not be completed."
	DefaultVerdict    = "This room looks ready for listing photos."
)

// Normalize coerces a raw parsed value into the canonical two-shape result.
// Pure and total: any input yields a valid Result, and normalizing twice is
// a no-op.
func Normalize(v any, rt properties.RoomType) properties.Result {
	obj, ok := v.(map[string]any)
	if !ok {
		return properties.Result{
			RoomType:  rt,
			RoomName:  string(rt),
			Status:    properties.ResultNeedsWork,
			Narrative: FallbackNarrative,
			Checklist: []string{},
		}
	}

	out := properties.Result{
		RoomType: properties.RoomType(stringField(obj, "roomType")),
		RoomName: stringField(obj, "roomName"),
		Status:   properties.ResultStatus(stringField(obj, "status")),
	}
	if out.RoomType == "" {
		out.RoomType = rt
	}
	if out.RoomName == "" {
		out.RoomName = string(rt)
	}
	if out.Status != properties.ResultPass {
		out.Status = properties.ResultNeedsWork
	}

	if out.Status == properties.ResultPass {
		out.Verdict = stringField(obj, "verdict")
		if out.Verdict == "" {
			out.Verdict = DefaultVerdict
		}
		return out
	}

	out.Narrative = stringField(obj, "narrative")
	out.Checklist = stringSlice(obj["checklist"])
	return out
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

// stringSlice keeps only non-blank string items, preserving order. Anything
// that is not a list of strings collapses to an empty checklist.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
