package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/syncthing/notify"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

// notify does not block sending to its channel, so it must be buffered.
const notifyBackendBuffer = 500

// followRescanDelay is the wait before a created directory is scanned a
// second time. notify watches a new directory only after dispatching its
// creation, so entries written in between reach no watch.
const followRescanDelay = 250 * time.Millisecond

type notifyBackend struct {
	opts options
}

// NewNotify returns a backend on top of syncthing/notify. Its recursive
// watch points pick up new directories by themselves, which serves Follow;
// a recursive watch cannot be limited to the directories present at attach
// time, so Recurse is not offered.
func NewNotify(opts ...Option) Backend {
	return &notifyBackend{opts: newOptions(opts)}
}

func (b *notifyBackend) Name() string { return BackendNotify }

func (b *notifyBackend) Capabilities() Capabilities {
	return Capabilities{
		EventTypes: model.All,
		Modes:      []model.PathMode{model.Flat, model.Follow},
	}
}

func (b *notifyBackend) Attach(root string, mode model.PathMode) (Source, error) {
	if !b.Capabilities().SupportsMode(mode) {
		return nil, unsupportedMode(b.Name(), mode)
	}

	root = filepath.Clean(root)
	watchPath := root
	if mode == model.Follow {
		watchPath = filepath.Join(root, "...")
	}

	s := &notifySource{
		root:    root,
		mode:    mode,
		created: newCreatedSet(),
		rescan:  make(chan string),
		backend: make(chan notify.EventInfo, notifyBackendBuffer),
		events:  make(chan model.RawEvent, b.opts.bufferSize),
		errors:  make(chan error, 1),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		opts:    b.opts,
	}

	err := notify.Watch(watchPath, s.backend, notify.Create, notify.Remove, notify.Write, notify.Rename)
	if err != nil {
		notify.Stop(s.backend)
		return nil, errors.Join(model.ErrPath, err)
	}

	go s.run()

	return s, nil
}

type notifySource struct {
	root    string
	mode    model.PathMode
	created *createdSet
	rescan  chan string
	backend chan notify.EventInfo
	events  chan model.RawEvent
	errors  chan error
	closed  chan struct{}
	done    chan struct{}
	once    sync.Once
	opts    options
}

func (s *notifySource) Events() <-chan model.RawEvent { return s.events }

func (s *notifySource) Errors() <-chan error { return s.errors }

func (s *notifySource) Detach() error {
	s.once.Do(func() {
		notify.Stop(s.backend)
		close(s.closed)
		<-s.done
	})
	return nil
}

func (s *notifySource) run() {
	defer close(s.done)
	defer close(s.events)

	for {
		// Detect channel overflow
		if len(s.backend) == notifyBackendBuffer {
			select {
			case s.errors <- errors.New("notify event queue overflow, events were lost"):
			default:
			}
		}

		select {
		case ei := <-s.backend:
			if !s.handle(ei.Path(), notifyKind(ei.Event())) {
				return
			}
		case dir := <-s.rescan:
			if !s.report(scanDir(dir)) {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// handle forwards one event; it returns false once the source is closing.
func (s *notifySource) handle(path string, kind model.EventType) bool {
	now := time.Now()
	switch kind {
	case 0:
		return true
	case model.Create:
		var found []string
		if s.mode == model.Follow {
			found = s.follow(path)
		}
		if s.created.add(path, now) && !s.emit(model.RawEvent{Path: path, Kind: kind, ObservedAt: now}) {
			return false
		}
		return s.report(found)
	case model.Delete:
		s.created.forget(path)
	}
	return s.emit(model.RawEvent{Path: path, Kind: kind, ObservedAt: now})
}

// follow scans a created directory now and again after followRescanDelay.
func (s *notifySource) follow(path string) []string {
	fi, err := os.Lstat(path)
	if err != nil || !fi.IsDir() {
		return nil
	}
	time.AfterFunc(followRescanDelay, func() {
		select {
		case s.rescan <- path:
		case <-s.closed:
		}
	})
	return scanDir(path)
}

// report emits creations for scanned paths not reported yet.
func (s *notifySource) report(paths []string) bool {
	now := time.Now()
	for _, p := range paths {
		if !s.created.add(p, now) {
			continue
		}
		if !s.emit(model.RawEvent{Path: p, Kind: model.Create, ObservedAt: now}) {
			return false
		}
	}
	return true
}

func (s *notifySource) emit(e model.RawEvent) bool {
	select {
	case s.events <- e:
		return true
	case <-s.closed:
		return false
	}
}

func notifyKind(e notify.Event) model.EventType {
	switch {
	case e&notify.Create != 0:
		return model.Create
	case e&(notify.Remove|notify.Rename) != 0:
		return model.Delete
	case e&notify.Write != 0:
		return model.Modify
	}
	return 0
}
