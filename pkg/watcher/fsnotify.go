package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

type fsnotifyBackend struct {
	opts options
}

// NewFSNotify returns a backend built on fsnotify. It watches one directory
// per kernel watch, so Recurse and Follow keep an index of watched
// directories; Follow extends it as directories are created.
func NewFSNotify(opts ...Option) Backend {
	return &fsnotifyBackend{opts: newOptions(opts)}
}

func (b *fsnotifyBackend) Name() string { return BackendFSNotify }

func (b *fsnotifyBackend) Capabilities() Capabilities {
	return Capabilities{
		EventTypes: model.All,
		Modes:      []model.PathMode{model.Flat, model.Recurse, model.Follow},
	}
}

func (b *fsnotifyBackend) Attach(root string, mode model.PathMode) (Source, error) {
	if !b.Capabilities().SupportsMode(mode) {
		return nil, unsupportedMode(b.Name(), mode)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &fsnotifySource{
		fw:      fw,
		root:    filepath.Clean(root),
		mode:    mode,
		dirs:    make(map[string]struct{}),
		created: newCreatedSet(),
		events:  make(chan model.RawEvent, b.opts.bufferSize),
		errors:  make(chan error, 4),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		opts:    b.opts,
	}

	if err := s.watchPath(s.root, mode != model.Flat); err != nil {
		_ = fw.Close()
		return nil, errors.Join(model.ErrPath, err)
	}

	go s.run()

	return s, nil
}

type fsnotifySource struct {
	fw   *fsnotify.Watcher
	root string
	mode model.PathMode

	// dirs is the index of directories currently registered with fw.
	mu   sync.Mutex
	dirs map[string]struct{}

	created *createdSet

	events chan model.RawEvent
	errors chan error
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
	opts   options
}

func (s *fsnotifySource) Events() <-chan model.RawEvent { return s.events }

func (s *fsnotifySource) Errors() <-chan error { return s.errors }

func (s *fsnotifySource) Detach() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.fw.Close()
		<-s.done
	})
	return err
}

// watched returns the number of directories in the index.
func (s *fsnotifySource) watched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

func (s *fsnotifySource) watchPath(path string, recursive bool) error {
	if !recursive {
		return s.add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			// vanished or unreadable below the root, skip it
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return s.add(p)
	})
}

func (s *fsnotifySource) add(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[dir]; ok {
		return nil
	}
	if err := s.fw.Add(dir); err != nil {
		return err
	}
	s.dirs[dir] = struct{}{}
	return nil
}

func (s *fsnotifySource) forget(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[dir]; !ok {
		return false
	}
	delete(s.dirs, dir)
	_ = s.fw.Remove(dir)
	return true
}

func (s *fsnotifySource) run() {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case e, ok := <-s.fw.Events:
			if !ok {
				return
			}
			if !s.handle(e) {
				return
			}
		case err, ok := <-s.fw.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			default:
				s.opts.logger.Warnf("watcher error :: dropped backend error %v on %s", err, s.root)
			}
		case <-s.closed:
			return
		}
	}
}

// handle converts one fsnotify event; it returns false once the source is
// closing.
func (s *fsnotifySource) handle(e fsnotify.Event) bool {
	if len(e.Name) == 0 {
		return true
	}

	kind := kindOf(e.Op)
	if kind == 0 {
		return true
	}

	now := time.Now()
	var discovered []string
	switch kind {
	case model.Create:
		if s.mode == model.Follow {
			discovered = s.follow(e.Name)
		}
		if !s.created.add(e.Name, now) {
			// already reported by the scan of a followed directory
			kind = 0
		}
	case model.Delete:
		s.created.forget(e.Name)
		if s.forget(e.Name) {
			s.opts.logger.Debugf("watcher :: directory %s left the watched set", e.Name)
		}
	}

	if kind != 0 && !s.emit(model.RawEvent{Path: e.Name, Kind: kind, ObservedAt: now}) {
		return false
	}
	for _, p := range discovered {
		if !s.created.add(p, now) {
			continue
		}
		if !s.emit(model.RawEvent{Path: p, Kind: model.Create, ObservedAt: now}) {
			return false
		}
	}
	return true
}

// follow registers a newly created directory and its subtree. Entries that
// already exist inside it were created before the kernel watch, so they are
// returned to be reported as creations. An entry created between the watch
// and the scan is also seen by the kernel; the created set reports it once.
func (s *fsnotifySource) follow(path string) []string {
	fi, err := os.Lstat(path)
	if err != nil || !fi.IsDir() {
		return nil
	}

	var discovered []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != path {
			discovered = append(discovered, p)
		}
		if d.IsDir() {
			if err := s.add(p); err != nil {
				s.opts.logger.Warnf("watcher error :: follow %s: %v", p, err)
				return fs.SkipDir
			}
		}
		return nil
	})
	s.opts.logger.Debugf("watcher :: following directory %s (%d watched)", path, s.watched())
	return discovered
}

func (s *fsnotifySource) emit(e model.RawEvent) bool {
	select {
	case s.events <- e:
		return true
	case <-s.closed:
		return false
	}
}

func kindOf(op fsnotify.Op) model.EventType {
	switch {
	case op.Has(fsnotify.Create):
		return model.Create
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return model.Delete
	case op.Has(fsnotify.Write):
		return model.Modify
	}
	return 0
}
