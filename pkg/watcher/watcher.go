// Package watcher adapts the host's change-notification primitives into
// sources of model.RawEvent.
//
// A Backend advertises which event types and path modes it can observe and
// attaches Sources to directory roots. A Source delivers events on a channel
// until Detach returns; after that no further event is sent.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

const (
	BackendFSNotify = "fsnotify"
	BackendNotify   = "notify"
)

var ErrUnknownBackend = errors.New("unknown watcher backend")

// Capabilities is the set of event types and path modes a backend supports.
type Capabilities struct {
	EventTypes model.EventType
	Modes      []model.PathMode
}

func (c Capabilities) SupportsEventType(t model.EventType) bool {
	return t.Valid() && c.EventTypes&t == t
}

func (c Capabilities) SupportsMode(m model.PathMode) bool {
	for _, mode := range c.Modes {
		if mode == m {
			return true
		}
	}
	return false
}

type Backend interface {
	Name() string
	Capabilities() Capabilities
	// Attach starts observing root. The returned error wraps model.ErrPath
	// when root cannot be watched and model.ErrInvalidRequest when mode is
	// not supported.
	Attach(root string, mode model.PathMode) (Source, error)
}

type Source interface {
	// Events is closed once the source stops.
	Events() <-chan model.RawEvent
	// Errors carries non fatal backend errors such as queue overflows.
	Errors() <-chan error
	Detach() error
}

type Option func(o *options)

type options struct {
	bufferSize int
	logger     *logger.Logger
}

func WithBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

func WithLogger(lg *logger.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		bufferSize: 64,
		logger:     logger.Discard(),
	}
	for _, op := range opts {
		op(&o)
	}
	return o
}

// DefaultBackend picks the backend for the running platform: native
// recursive watches where the OS provides them, fsnotify elsewhere.
func DefaultBackend(opts ...Option) Backend {
	switch runtime.GOOS {
	case "darwin", "windows":
		return NewNotify(opts...)
	}
	return NewFSNotify(opts...)
}

// ByName returns the named backend, or DefaultBackend for an empty name.
func ByName(name string, opts ...Option) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DefaultBackend(opts...), nil
	case BackendFSNotify:
		return NewFSNotify(opts...), nil
	case BackendNotify:
		return NewNotify(opts...), nil
	}
	return nil, errors.Join(ErrUnknownBackend, fmt.Errorf("%q", name))
}

func unsupportedMode(backend string, mode model.PathMode) error {
	return errors.Join(model.ErrInvalidRequest, fmt.Errorf("path mode %s is not supported by %s", mode, backend))
}

// createdWindow is how long a reported creation suppresses another report
// of the same path.
const createdWindow = 2 * time.Second

// createdSet remembers paths recently reported as created. A path found
// both by the kernel and by a directory scan is then reported once. It is
// only used from a source's run goroutine.
type createdSet struct {
	seen  map[string]time.Time
	limit int
}

func newCreatedSet() *createdSet {
	return &createdSet{seen: make(map[string]time.Time), limit: 1024}
}

// add records path and reports whether it was not already reported within
// the window.
func (c *createdSet) add(path string, now time.Time) bool {
	if at, ok := c.seen[path]; ok && now.Sub(at) < createdWindow {
		return false
	}
	c.seen[path] = now
	if len(c.seen) >= c.limit {
		for p, at := range c.seen {
			if now.Sub(at) >= createdWindow {
				delete(c.seen, p)
			}
		}
		c.limit = max(1024, 2*len(c.seen))
	}
	return true
}

// forget drops path after its deletion so a new file there is reported.
func (c *createdSet) forget(path string) {
	delete(c.seen, path)
}

// scanDir returns every entry below dir, dir excluded.
func scanDir(dir string) []string {
	var found []string
	_ = filepath.WalkDir(dir, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != dir {
			found = append(found, p)
		}
		return nil
	})
	return found
}
