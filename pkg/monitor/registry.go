// Package monitor tracks watches and moves their events from a watcher
// backend to the client endpoints.
//
// Registry is the only entry point. Control operations are serialised on
// the registry map and on each watch; they never wait on delivery.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filter"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/watcher"
)

const DefaultScheme = "file"

var ErrRegistryClosed = errors.New("registry is closed")

type Options struct {
	Backend watcher.Backend
	// Scheme and Host prefix the file ids of delivered events.
	Scheme string
	Host   string
	// Roots limits watches to these directory trees; empty allows any path.
	Roots    []string
	Dispatch DispatchOptions
	Logger   *logger.Logger
}

type CreateRequest struct {
	EventType model.EventType
	Path      string
	Whitelist []string
	Blacklist []string
	Mode      model.PathMode
	Endpoint  Endpoint
}

type Registry struct {
	opts   Options
	roots  []string
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	watches map[model.WatchID]*Watch
	closed  bool
}

func NewRegistry(opts Options) *Registry {
	if opts.Backend == nil {
		opts.Backend = watcher.DefaultBackend(watcher.WithLogger(opts.Logger))
	}
	if opts.Scheme == "" {
		opts.Scheme = DefaultScheme
	}
	if opts.Host == "" {
		opts.Host, _ = os.Hostname()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	opts.Dispatch = opts.Dispatch.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:    opts,
		roots:   filehandler.Roots(opts.Roots),
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[model.WatchID]*Watch),
	}
}

// Backend returns the watcher backend in use.
func (r *Registry) Backend() watcher.Backend { return r.opts.Backend }

// FileID returns the identifier used for path in delivered events.
func (r *Registry) FileID(path string) model.FileID {
	return model.NewFileID(r.opts.Scheme, r.opts.Host, filepath.ToSlash(path))
}

// Create registers a new watch in the Stopped state.
func (r *Registry) Create(req CreateRequest) (model.WatchID, error) {
	caps := r.opts.Backend.Capabilities()
	if !caps.SupportsEventType(req.EventType) {
		return "", errors.Join(model.ErrInvalidRequest,
			fmt.Errorf("event type %s is not supported by %s", req.EventType, r.opts.Backend.Name()))
	}
	if !caps.SupportsMode(req.Mode) {
		return "", errors.Join(model.ErrInvalidRequest,
			fmt.Errorf("path mode %s is not supported by %s", req.Mode, r.opts.Backend.Name()))
	}
	if req.Endpoint == nil {
		return "", errors.Join(model.ErrInvalidRequest, errors.New("client endpoint is required"))
	}

	root, err := r.resolveRoot(req.Path)
	if err != nil {
		return "", err
	}

	uid, err := uuid.NewV7()
	if err != nil {
		return "", errors.Join(model.ErrCatchAll, err)
	}
	id := model.WatchID(uid.String())

	lg := r.logger
	q := newQueue()
	w := &Watch{
		id:       id,
		root:     root,
		mode:     req.Mode,
		filter:   filter.New(req.EventType, req.Whitelist, req.Blacklist),
		backend:  r.opts.Backend,
		fileID:   r.FileID,
		created:  time.Now(),
		logger:   lg,
		queue:    q,
		dispatch: newDispatcher(id, req.Endpoint, q, r.opts.Dispatch, lg),
		state:    model.Stopped,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", errors.Join(model.ErrCatchAll, ErrRegistryClosed)
	}
	r.watches[id] = w
	w.dispatch.start(r.ctx)
	r.mu.Unlock()

	metricWatches.WithLabelValues(model.Stopped.String()).Inc()
	r.logger.Infof("registry :: created watch %s on %s", id, root)
	return id, nil
}

func (r *Registry) resolveRoot(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.Join(model.ErrPath, errors.New("path is required"))
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Join(model.ErrPath, err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return "", errors.Join(model.ErrPath, err)
	}
	if !fi.IsDir() {
		return "", errors.Join(model.ErrPath, fmt.Errorf("%s is not a directory", root))
	}
	resolved, err := filehandler.RealPath(root, true)
	if err != nil {
		return "", errors.Join(model.ErrPath, err)
	}
	if !filehandler.Within(r.roots, resolved) {
		return "", errors.Join(model.ErrPath, fmt.Errorf("%s is outside the monitored roots", root))
	}
	return root, nil
}

func (r *Registry) lookup(id model.WatchID) (*Watch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watches[id]
	if !ok {
		return nil, unknownID(id)
	}
	return w, nil
}

// Start attaches the watch to its source. Starting a Started watch is a
// no-op. When attaching fails the error is returned and callers should
// destroy and recreate the watch.
func (r *Registry) Start(id model.WatchID) error {
	w, err := r.lookup(id)
	if err != nil {
		return err
	}
	return w.start()
}

// Stop detaches the watch's source; queued notifications keep draining.
func (r *Registry) Stop(id model.WatchID) error {
	w, err := r.lookup(id)
	if err != nil {
		return err
	}
	return w.stop()
}

// Destroy unregisters the watch, stopping it first when needed. The id is
// invalid from the moment Destroy takes it out of the map.
func (r *Registry) Destroy(id model.WatchID) error {
	r.mu.Lock()
	w, ok := r.watches[id]
	if !ok {
		r.mu.Unlock()
		return unknownID(id)
	}
	delete(r.watches, id)
	r.mu.Unlock()

	w.destroy()
	return nil
}

func (r *Registry) State(id model.WatchID) (model.State, error) {
	w, err := r.lookup(id)
	if err != nil {
		return model.Stopped, err
	}
	return w.State()
}

// Root returns the directory watched by id.
func (r *Registry) Root(id model.WatchID) (string, error) {
	w, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return w.Root(), nil
}

func (r *Registry) Info(id model.WatchID) (WatchInfo, error) {
	w, err := r.lookup(id)
	if err != nil {
		return WatchInfo{}, err
	}
	return w.Info(), nil
}

// List returns every registered watch in creation order.
func (r *Registry) List() []WatchInfo {
	r.mu.RLock()
	watches := make([]*Watch, 0, len(r.watches))
	for _, w := range r.watches {
		watches = append(watches, w)
	}
	r.mu.RUnlock()

	infos := make([]WatchInfo, 0, len(watches))
	for _, w := range watches {
		infos = append(infos, w.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close destroys every watch and refuses further creations.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	watches := r.watches
	r.watches = make(map[model.WatchID]*Watch)
	r.mu.Unlock()

	var g errgroup.Group
	for _, w := range watches {
		w := w
		g.Go(func() error {
			w.destroy()
			return nil
		})
	}
	err := g.Wait()
	r.cancel()

	r.logger.Infof("registry :: closed, %d watches destroyed", len(watches))
	return err
}

// Serve blocks until ctx is done and then closes the registry, so the
// registry can run under a supervisor.
func (r *Registry) Serve(ctx context.Context) error {
	<-ctx.Done()
	return r.Close()
}

func (r *Registry) String() string { return "monitor.Registry" }
