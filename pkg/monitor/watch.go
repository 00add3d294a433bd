package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filter"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/watcher"
)

// Watch is one monitored root. Its state only changes through start, stop
// and destroy, which are serialised by mu; the pump goroutine only touches
// the queue.
type Watch struct {
	id       model.WatchID
	root     string
	mode     model.PathMode
	filter   filter.Filter
	backend  watcher.Backend
	fileID   func(path string) model.FileID
	created  time.Time
	logger   *logger.Logger
	queue    *queue
	dispatch *Dispatcher

	mu        sync.Mutex
	state     model.State
	destroyed bool
	source    watcher.Source
	pumpStop  context.CancelFunc
	pumpDone  chan struct{}
}

// WatchInfo is a snapshot of a watch's configuration and state.
type WatchInfo struct {
	ID        model.WatchID   `json:"id"`
	Path      string          `json:"path"`
	Mode      model.PathMode  `json:"mode"`
	EventType model.EventType `json:"event_type"`
	Whitelist []string        `json:"whitelist"`
	Blacklist []string        `json:"blacklist"`
	State     model.State     `json:"state"`
	Pending   int             `json:"pending"`
	Created   time.Time       `json:"created"`
}

func unknownID(id model.WatchID) error {
	return errors.Join(model.ErrUnknownID, fmt.Errorf("%q", string(id)))
}

func (w *Watch) ID() model.WatchID { return w.id }

func (w *Watch) Root() string { return w.root }

func (w *Watch) State() (model.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return model.Stopped, unknownID(w.id)
	}
	return w.state, nil
}

func (w *Watch) Info() WatchInfo {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	return WatchInfo{
		ID:        w.id,
		Path:      w.root,
		Mode:      w.mode,
		EventType: w.filter.EventType(),
		Whitelist: w.filter.Whitelist(),
		Blacklist: w.filter.Blacklist(),
		State:     state,
		Pending:   w.queue.len(),
		Created:   w.created,
	}
}

func (w *Watch) start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return unknownID(w.id)
	}
	if w.state == model.Started {
		return nil
	}

	src, err := w.backend.Attach(w.root, w.mode)
	if err != nil {
		w.logger.Errorf("watch error :: %s could not attach %s backend on %s: %v", w.id, w.backend.Name(), w.root, model.Reason(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.source = src
	w.pumpStop = cancel
	w.pumpDone = make(chan struct{})
	w.state = model.Started
	go w.pump(ctx, src, w.pumpDone)

	metricWatches.WithLabelValues(model.Stopped.String()).Dec()
	metricWatches.WithLabelValues(model.Started.String()).Inc()
	w.logger.Infof("watch :: %s started on %s (%s, %s)", w.id, w.root, w.mode, w.filter.EventType())
	return nil
}

func (w *Watch) stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return unknownID(w.id)
	}
	w.stopLocked()
	return nil
}

// stopLocked detaches the source and waits for the pump to exit. Raw events
// the pump had not filtered yet are dropped; queued notifications stay.
func (w *Watch) stopLocked() {
	if w.state != model.Started {
		return
	}

	w.pumpStop()
	if err := w.source.Detach(); err != nil {
		w.logger.Warnf("watch error :: %s detach: %v", w.id, err)
	}
	<-w.pumpDone

	w.source = nil
	w.pumpStop = nil
	w.pumpDone = nil
	w.state = model.Stopped

	metricWatches.WithLabelValues(model.Started.String()).Dec()
	metricWatches.WithLabelValues(model.Stopped.String()).Inc()
	w.logger.Infof("watch :: %s stopped", w.id)
}

// destroy stops the watch, discards pending notifications and ends its
// dispatcher. It is terminal.
func (w *Watch) destroy() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.stopLocked()
	w.destroyed = true
	w.mu.Unlock()

	if dropped := w.queue.close(); dropped > 0 {
		metricEventsDropped.WithLabelValues(reasonDestroyed).Add(float64(dropped))
		w.logger.Warnf("watch :: %s destroyed with %d undelivered events", w.id, dropped)
	}
	w.dispatch.stop()

	metricWatches.WithLabelValues(model.Stopped.String()).Dec()
	w.logger.Infof("watch :: %s destroyed", w.id)
}

func (w *Watch) pump(ctx context.Context, src watcher.Source, done chan struct{}) {
	defer close(done)

	events, errs := src.Events(), src.Errors()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			w.capture(e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warnf("watch error :: %s source: %v", w.id, err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watch) capture(e model.RawEvent) {
	if !w.filter.Accept(e.Path, e.Kind) {
		metricEventsCaptured.WithLabelValues(resultRejected).Inc()
		return
	}
	metricEventsCaptured.WithLabelValues(resultAccepted).Inc()

	w.queue.push(model.NotificationEvent{
		FileID:    w.fileID(e.Path),
		EventType: e.Kind,
	})
}
