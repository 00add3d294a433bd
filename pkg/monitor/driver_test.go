package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/watcher"
)

// scriptedBackend hands out sources whose events are pushed by the test,
// replaying a scripted sequence of changes without touching the kernel.
type scriptedBackend struct {
	caps      watcher.Capabilities
	attachErr error

	mu       sync.Mutex
	sources  []*scriptedSource
	attaches int32
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		caps: watcher.Capabilities{
			EventTypes: model.All,
			Modes:      []model.PathMode{model.Flat, model.Recurse, model.Follow},
		},
	}
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Capabilities() watcher.Capabilities { return b.caps }

func (b *scriptedBackend) Attach(root string, mode model.PathMode) (watcher.Source, error) {
	atomic.AddInt32(&b.attaches, 1)
	if b.attachErr != nil {
		return nil, b.attachErr
	}
	s := &scriptedSource{
		root:   root,
		events: make(chan model.RawEvent),
		errors: make(chan error),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.sources = append(b.sources, s)
	b.mu.Unlock()
	return s, nil
}

func (b *scriptedBackend) last() *scriptedSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sources) == 0 {
		return nil
	}
	return b.sources[len(b.sources)-1]
}

type scriptedSource struct {
	root     string
	events   chan model.RawEvent
	errors   chan error
	closed   chan struct{}
	once     sync.Once
	detached atomic.Bool
}

func (s *scriptedSource) Events() <-chan model.RawEvent { return s.events }

func (s *scriptedSource) Errors() <-chan error { return s.errors }

func (s *scriptedSource) Detach() error {
	s.once.Do(func() {
		s.detached.Store(true)
		close(s.closed)
	})
	return nil
}

// send hands one event to the pump; it fails once the source is detached.
func (s *scriptedSource) send(path string, kind model.EventType) bool {
	select {
	case s.events <- model.RawEvent{Path: path, Kind: kind, ObservedAt: time.Now()}:
		return true
	case <-s.closed:
		return false
	case <-time.After(2 * time.Second):
		return false
	}
}

// recorder is an Endpoint keeping every acknowledged batch.
type recorder struct {
	mu       sync.Mutex
	batches  [][]model.NotificationEvent
	ids      []model.WatchID
	calls    int32
	failures int32 // number of upcoming calls to fail, -1 fails forever
	gate     chan struct{}
	entered  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{entered: make(chan struct{}, 64)}
}

func (r *recorder) Notify(ctx context.Context, id model.WatchID, events []model.NotificationEvent) error {
	atomic.AddInt32(&r.calls, 1)
	select {
	case r.entered <- struct{}{}:
	default:
	}

	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f := atomic.LoadInt32(&r.failures); f != 0 {
		if f > 0 {
			atomic.AddInt32(&r.failures, -1)
		}
		return errors.New("client unreachable")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]model.NotificationEvent(nil), events...))
	r.ids = append(r.ids, id)
	return nil
}

func (r *recorder) block() {
	r.mu.Lock()
	r.gate = make(chan struct{})
	r.mu.Unlock()
}

func (r *recorder) release() {
	r.mu.Lock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
	r.mu.Unlock()
}

func (r *recorder) events() []model.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.NotificationEvent
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

func (r *recorder) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) waitEvents(t *testing.T, n int) []model.NotificationEvent {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.events()) >= n
	}, 3*time.Second, 5*time.Millisecond, "waiting for %d events", n)
	return r.events()
}
