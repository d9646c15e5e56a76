package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domai "github.com/bryanwahyu/stageready/internal/domain/ai"
	"github.com/bryanwahyu/stageready/internal/domain/analysis"
	"github.com/bryanwahyu/stageready/internal/domain/properties"
)

type scriptedModel struct {
	mu        sync.Mutex
	requests  []domai.Request
	responses []string
	errs      []error
}

func (m *scriptedModel) Generate(ctx context.Context, req domai.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

type mapStore struct {
	objects map[string][]byte
}

func (s *mapStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *mapStore) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("no object %s", key)
	}
	return data, "image/jpeg", nil
}

func (s *mapStore) Remove(ctx context.Context, key string) error { return nil }

type emitted struct {
	outcomes []analysis.RoomOutcome
}

func (e *emitted) emit(ctx context.Context, out analysis.RoomOutcome) error {
	e.outcomes = append(e.outcomes, out)
	return nil
}

func twoRoomRequest() analysis.RunRequest {
	return analysis.RunRequest{
		PropertyID: "p1",
		Mode:       properties.ModeStrict,
		Photos: []properties.Photo{
			{StorageID: "k1", RoomType: properties.RoomKitchen},
			{StorageID: "k2", RoomType: properties.RoomLivingRoom},
		},
	}
}

func testStore() *mapStore {
	return &mapStore{objects: map[string][]byte{"k1": []byte("img1"), "k2": []byte("img2")}}
}

//
// ==== PER-ROOM ====
//

func TestPerRoomEmitsInOrder(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"status":"PASS","verdict":"fine"}`,
		`{"status":"NEEDS_WORK","narrative":"n","checklist":["a"]}`,
	}}
	p := &PerRoomPipeline{Model: model, Photos: testStore(), Spacing: time.Millisecond, RetryBackoff: time.Millisecond}
	sink := &emitted{}

	require.NoError(t, p.Analyze(context.Background(), twoRoomRequest(), sink.emit))

	require.Len(t, sink.outcomes, 2)
	assert.Equal(t, properties.RoomKitchen, sink.outcomes[0].RoomType)
	assert.Equal(t, properties.RoomLivingRoom, sink.outcomes[1].RoomType)

	first, ok := sink.outcomes[0].Parsed.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PASS", first["status"])

	// One call per room, each with exactly one image.
	require.Len(t, model.requests, 2)
	assert.Len(t, model.requests[0].Images, 1)
	assert.Equal(t, []byte("img1"), model.requests[0].Images[0].Data)
	assert.Equal(t, []byte("img2"), model.requests[1].Images[0].Data)
}

func TestPerRoomUnparsableResponseEmitsNil(t *testing.T) {
	model := &scriptedModel{responses: []string{"I cannot answer that."}}
	p := &PerRoomPipeline{Model: model, Photos: testStore(), Spacing: time.Millisecond}
	sink := &emitted{}

	req := twoRoomRequest()
	req.Photos = req.Photos[:1]
	require.NoError(t, p.Analyze(context.Background(), req, sink.emit))

	require.Len(t, sink.outcomes, 1)
	assert.Nil(t, sink.outcomes[0].Parsed)
}

func TestPerRoomRetriesOnceOnRateLimit(t *testing.T) {
	model := &scriptedModel{
		errs:      []error{domai.ErrRateLimited, nil},
		responses: []string{"", `{"status":"PASS"}`},
	}
	p := &PerRoomPipeline{Model: model, Photos: testStore(), Spacing: time.Millisecond, RetryBackoff: time.Millisecond}
	sink := &emitted{}

	req := twoRoomRequest()
	req.Photos = req.Photos[:1]
	require.NoError(t, p.Analyze(context.Background(), req, sink.emit))

	assert.Len(t, model.requests, 2)
	require.Len(t, sink.outcomes, 1)
	assert.NotNil(t, sink.outcomes[0].Parsed)
}

func TestPerRoomSecondRateLimitAborts(t *testing.T) {
	model := &scriptedModel{errs: []error{domai.ErrRateLimited, domai.ErrRateLimited}}
	p := &PerRoomPipeline{Model: model, Photos: testStore(), Spacing: time.Millisecond, RetryBackoff: time.Millisecond}
	sink := &emitted{}

	req := twoRoomRequest()
	err := p.Analyze(context.Background(), req, sink.emit)
	assert.ErrorIs(t, err, domai.ErrRateLimited)
	assert.Empty(t, sink.outcomes)
	assert.Len(t, model.requests, 2)
}

func TestPerRoomNonRateLimitErrorNotRetried(t *testing.T) {
	boom := errors.New("model down")
	model := &scriptedModel{errs: []error{boom}}
	p := &PerRoomPipeline{Model: model, Photos: testStore(), Spacing: time.Millisecond}

	err := p.Analyze(context.Background(), twoRoomRequest(), func(ctx context.Context, out analysis.RoomOutcome) error { return nil })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, model.requests, 1)
}

func TestPerRoomFetchFailureAborts(t *testing.T) {
	model := &scriptedModel{}
	p := &PerRoomPipeline{Model: model, Photos: &mapStore{objects: map[string][]byte{}}, Spacing: time.Millisecond}

	err := p.Analyze(context.Background(), twoRoomRequest(), func(ctx context.Context, out analysis.RoomOutcome) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, model.requests)
}

//
// ==== BATCH ====
//

func TestBatchSingleCallMergedByRoom(t *testing.T) {
	model := &scriptedModel{responses: []string{`[
		{"roomType":"living-room","status":"PASS","verdict":"ok"},
		{"roomType":"kitchen","status":"NEEDS_WORK","narrative":"n","checklist":["a"]}
	]`}}
	p := &BatchPipeline{Model: model, Photos: testStore()}
	sink := &emitted{}

	require.NoError(t, p.Analyze(context.Background(), twoRoomRequest(), sink.emit))

	// One round trip carrying every image.
	require.Len(t, model.requests, 1)
	assert.Len(t, model.requests[0].Images, 2)
	assert.Equal(t, []byte("img1"), model.requests[0].Images[0].Data)

	// Emits follow photo order regardless of the response order.
	require.Len(t, sink.outcomes, 2)
	assert.Equal(t, properties.RoomKitchen, sink.outcomes[0].RoomType)
	obj := sink.outcomes[0].Parsed.(map[string]any)
	assert.Equal(t, "NEEDS_WORK", obj["status"])
}

func TestBatchWrapsSingleObject(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"roomType":"kitchen","status":"PASS","verdict":"ok"}`}}
	p := &BatchPipeline{Model: model, Photos: testStore()}
	sink := &emitted{}

	require.NoError(t, p.Analyze(context.Background(), twoRoomRequest(), sink.emit))

	// Only the room the model answered for is emitted; the other keeps no result.
	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, properties.RoomKitchen, sink.outcomes[0].RoomType)
}

func TestBatchDropsUnknownRooms(t *testing.T) {
	model := &scriptedModel{responses: []string{`[
		{"roomType":"garage","status":"PASS","verdict":"ok"},
		{"roomType":"kitchen","status":"PASS","verdict":"ok"}
	]`}}
	p := &BatchPipeline{Model: model, Photos: testStore()}
	sink := &emitted{}

	require.NoError(t, p.Analyze(context.Background(), twoRoomRequest(), sink.emit))

	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, properties.RoomKitchen, sink.outcomes[0].RoomType)
}

func TestBatchUnparsableResponseEmitsNothing(t *testing.T) {
	model := &scriptedModel{responses: []string{"no json here"}}
	p := &BatchPipeline{Model: model, Photos: testStore()}
	sink := &emitted{}

	require.NoError(t, p.Analyze(context.Background(), twoRoomRequest(), sink.emit))
	assert.Empty(t, sink.outcomes)
}

func TestBatchModelErrorPropagates(t *testing.T) {
	model := &scriptedModel{errs: []error{domai.ErrRateLimited}}
	p := &BatchPipeline{Model: model, Photos: testStore()}

	err := p.Analyze(context.Background(), twoRoomRequest(), func(ctx context.Context, out analysis.RoomOutcome) error { return nil })
	assert.ErrorIs(t, err, domai.ErrRateLimited)
}

func TestParseBatch(t *testing.T) {
	assert.Len(t, parseBatch(`[{"a":1},{"b":2}]`), 2)
	assert.Len(t, parseBatch(`{"a":1}`), 1)
	assert.Nil(t, parseBatch(`"just a string"`))
	assert.Nil(t, parseBatch(`nonsense`))
}
