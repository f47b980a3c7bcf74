package monitor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKE BACKEND
// ══════════════════════════════════════════════════════════════════════════════

type fakeBackend struct {
	mu sync.Mutex

	resources map[shared.ResourceID]monitoring.Resource
	sessions  map[shared.ResourceID]shared.SessionID

	findErr      error
	createErr    error
	createDelay  time.Duration
	finishErr    error
	frameErr     error
	scoreErr     error
	recommendErr error
	score        monitoring.CombinedScore

	resourceCalls, findCalls, createCalls  int
	startCalls, finishCalls                int
	frameCalls, scoreCalls, recommendCalls int
	lastElapsed                            time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		resources: map[shared.ResourceID]monitoring.Resource{},
		sessions:  map[shared.ResourceID]shared.SessionID{},
		score:     monitoring.Combine(shared.ScorePtr(80), shared.ScorePtr(70)),
	}
}

func (b *fakeBackend) addResource(res monitoring.Resource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resources[res.ID] = res
}

func (b *fakeBackend) GetResource(_ context.Context, id shared.ResourceID) (*monitoring.Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resourceCalls++
	res, ok := b.resources[id]
	if !ok {
		return nil, shared.WrapError("resource", "Get", shared.ErrNotFound, "no resource "+id.String(), nil)
	}
	return &res, nil
}

func (b *fakeBackend) FindSession(_ context.Context, resource shared.ResourceID) (shared.SessionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.findCalls++
	if b.findErr != nil {
		return "", b.findErr
	}
	return b.sessions[resource], nil
}

func (b *fakeBackend) CreateSession(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error) {
	if b.createDelay > 0 {
		select {
		case <-time.After(b.createDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++
	if b.createErr != nil {
		return "", b.createErr
	}
	if id, ok := b.sessions[resource]; ok {
		return id, nil
	}
	id := shared.SessionID(fmt.Sprintf("sess-%s", resource))
	b.sessions[resource] = id
	return id, nil
}

func (b *fakeBackend) StartMonitoring(context.Context, shared.SessionID, time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCalls++
	return nil
}

func (b *fakeBackend) FinishMonitoring(_ context.Context, _ shared.SessionID, elapsed time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishCalls++
	b.lastElapsed = elapsed
	return b.finishErr
}

func (b *fakeBackend) SendFrame(context.Context, shared.SessionID, string) (*monitoring.Readout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameCalls++
	if b.frameErr != nil {
		return nil, b.frameErr
	}
	return &monitoring.Readout{Score: 75, State: "attentive"}, nil
}

func (b *fakeBackend) CombinedScore(context.Context, shared.StudentID, shared.ResourceID) (monitoring.CombinedScore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scoreCalls++
	if b.scoreErr != nil {
		return monitoring.CombinedScore{}, b.scoreErr
	}
	return b.score, nil
}

func (b *fakeBackend) Recommend(_ context.Context, req monitoring.RecommendationRequest) (*monitoring.Recommendation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recommendCalls++
	if b.recommendErr != nil {
		return nil, b.recommendErr
	}
	return &monitoring.Recommendation{
		Message: fmt.Sprintf("keep going on %s", req.LessonID),
		Actions: []monitoring.Action{{Kind: "review", Description: "Review the video"}},
	}, nil
}

func (b *fakeBackend) counts() (find, create, start, finish, frames, score, recommend int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findCalls, b.createCalls, b.startCalls, b.finishCalls, b.frameCalls, b.scoreCalls, b.recommendCalls
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAKE CAMERA
// ══════════════════════════════════════════════════════════════════════════════

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	warmup  int
	streams []*fakeStream
}

func (d *fakeDevice) Open(context.Context) (monitoring.CameraStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{warmup: d.warmup}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// live counts streams with running tracks.
func (d *fakeDevice) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

type fakeStream struct {
	mu        sync.Mutex
	warmup    int
	snapshots int
	closed    bool
}

func (s *fakeStream) Snapshot() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("stream closed")
	}
	s.snapshots++
	if s.snapshots <= s.warmup {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 6)), nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func fakeEncode(image.Image) (string, error) {
	return "data:image/jpeg;base64,AAAA", nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDING PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(event shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}
