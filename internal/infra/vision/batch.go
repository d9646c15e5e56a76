package vision

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	domai "github.com/bryanwahyu/stageready/internal/domain/ai"
	"github.com/bryanwahyu/stageready/internal/domain/analysis"
	"github.com/bryanwahyu/stageready/internal/domain/properties"
	"github.com/bryanwahyu/stageready/internal/infra/ai/prompt"
)

// BatchPipeline fetches every photo concurrently and spends exactly one
// model round trip on the whole delta set. Results arrive as a JSON array
// tagged by roomType; the merge downstream is keyed by roomType, so missing
// rooms simply keep no new result and unknown rooms are dropped.
type BatchPipeline struct {
	Model  domai.Client
	Photos properties.PhotoStore

	CallTimeout time.Duration // single-call ceiling, default 120s
}

func (p *BatchPipeline) Analyze(ctx context.Context, req analysis.RunRequest, emit analysis.EmitFunc) error {
	images := make([]domai.Image, len(req.Photos))
	g, gctx := errgroup.WithContext(ctx)
	for i, photo := range req.Photos {
		i, photo := i, photo
		g.Go(func() error {
			data, mime, err := p.Photos.Fetch(gctx, photo.StorageID)
			if err != nil {
				return fmt.Errorf("fetch photo %s: %w", photo.StorageID, err)
			}
			images[i] = domai.Image{Data: data, MIME: mime}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	roomTypes := make([]properties.RoomType, len(req.Photos))
	for i, photo := range req.Photos {
		roomTypes[i] = photo.RoomType
	}

	cctx, cancel := context.WithTimeout(ctx, p.callTimeout())
	defer cancel()
	text, err := p.Model.Generate(cctx, domai.Request{
		System:    prompt.GetBatchSystemPrompt(req.Mode, roomTypes),
		Directive: prompt.GetBatchUserPrompt(req.Mode, len(roomTypes)),
		Images:    images,
	})
	if err != nil {
		return err
	}

	items := parseBatch(text)
	if items == nil {
		log.Printf("batch analysis parse failed property=%s raw=%.200q", req.PropertyID, text)
	}
	if len(items) != len(req.Photos) {
		log.Printf("batch analysis count mismatch property=%s want=%d got=%d", req.PropertyID, len(req.Photos), len(items))
	}

	byRoom := make(map[properties.RoomType]any, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		rt, _ := obj["roomType"].(string)
		byRoom[properties.RoomType(rt)] = obj
	}

	for _, photo := range req.Photos {
		parsed, ok := byRoom[photo.RoomType]
		if !ok {
			// Missing rooms keep no new result; the merge is keyed by roomType.
			continue
		}
		if err := emit(ctx, analysis.RoomOutcome{RoomType: photo.RoomType, Parsed: parsed}); err != nil {
			return err
		}
	}
	return nil
}

// parseBatch extracts the result array; a bare object is wrapped into a
// one-element array.
func parseBatch(text string) []any {
	v, ok := analysis.ExtractJSON(text)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		return []any{t}
	default:
		return nil
	}
}

func (p *BatchPipeline) callTimeout() time.Duration {
	if p.CallTimeout > 0 {
		return p.CallTimeout
	}
	return 2 * time.Minute
}
