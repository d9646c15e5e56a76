package vision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	domai "github.com/bryanwahyu/stageready/internal/domain/ai"
	"github.com/bryanwahyu/stageready/internal/domain/analysis"
	"github.com/bryanwahyu/stageready/internal/domain/properties"
	"github.com/bryanwahyu/stageready/internal/infra/ai/prompt"
)

// PerRoomPipeline issues one model call per room, sequentially, with fixed
// spacing between calls so bursts do not trip the provider's rate limit.
// Every room's outcome is emitted before the next call starts.
type PerRoomPipeline struct {
	Model  domai.Client
	Photos properties.PhotoStore

	Spacing      time.Duration // inter-call spacing, default 3s
	RetryBackoff time.Duration // wait before the single rate-limit retry, default 60s
	CallTimeout  time.Duration // per-call ceiling, default 120s
}

func (p *PerRoomPipeline) Analyze(ctx context.Context, req analysis.RunRequest, emit analysis.EmitFunc) error {
	for i, photo := range req.Photos {
		if i > 0 {
			if err := sleep(ctx, p.spacing()); err != nil {
				return err
			}
		}

		data, mime, err := p.Photos.Fetch(ctx, photo.StorageID)
		if err != nil {
			return fmt.Errorf("fetch photo %s: %w", photo.StorageID, err)
		}

		text, err := p.generate(ctx, req.Mode, photo.RoomType, data, mime)
		if err != nil {
			return err
		}

		parsed, ok := analysis.ExtractJSON(text)
		if !ok {
			log.Printf("room analysis parse failed property=%s room=%s raw=%.200q", req.PropertyID, photo.RoomType, text)
			parsed = nil
		}

		if err := emit(ctx, analysis.RoomOutcome{RoomType: photo.RoomType, Parsed: parsed}); err != nil {
			return err
		}
	}
	return nil
}

// generate calls the model once, retrying a single time after a backoff when
// the provider rate-limits. Any second rate limit aborts the run.
func (p *PerRoomPipeline) generate(ctx context.Context, mode properties.AnalysisMode, rt properties.RoomType, data []byte, mime string) (string, error) {
	req := domai.Request{
		System:    prompt.GetSystemPrompt(mode, rt),
		Directive: prompt.GetUserPrompt(mode),
		Images:    []domai.Image{{Data: data, MIME: mime}},
	}

	text, err := p.callModel(ctx, req)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, domai.ErrRateLimited) {
		return "", err
	}

	backoff := p.RetryBackoff
	if backoff <= 0 {
		backoff = time.Minute
	}
	log.Printf("vision model rate limited room=%s, retrying once after %s", rt, backoff)
	if serr := sleep(ctx, backoff); serr != nil {
		return "", serr
	}
	return p.callModel(ctx, req)
}

func (p *PerRoomPipeline) callModel(ctx context.Context, req domai.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout())
	defer cancel()
	return p.Model.Generate(ctx, req)
}

func (p *PerRoomPipeline) spacing() time.Duration {
	if p.Spacing > 0 {
		return p.Spacing
	}
	return 3 * time.Second
}

func (p *PerRoomPipeline) callTimeout() time.Duration {
	if p.CallTimeout > 0 {
		return p.CallTimeout
	}
	return 2 * time.Minute
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
