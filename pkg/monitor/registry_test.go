package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/watcher"
)

var lg = logger.New(os.Stdout, "test --> ", logger.LevelDebug, false)

var fastDispatch = DispatchOptions{
	Attempts:       3,
	Timeout:        time.Second,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
}

func newTestRegistry(t *testing.T, backend watcher.Backend) *Registry {
	t.Helper()
	r := NewRegistry(Options{
		Backend:  backend,
		Scheme:   "file",
		Host:     "test-host",
		Dispatch: fastDispatch,
		Logger:   lg,
	})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func create(t *testing.T, r *Registry, root string, ep Endpoint, mutate ...func(*CreateRequest)) model.WatchID {
	t.Helper()
	req := CreateRequest{
		EventType: model.All,
		Path:      root,
		Mode:      model.Flat,
		Endpoint:  ep,
	}
	for _, m := range mutate {
		m(&req)
	}
	id, err := r.Create(req)
	require.NoError(t, err, "create watch.")
	return id
}

func TestRegistry_CreateIsStopped(t *testing.T) {
	r := newTestRegistry(t, newScriptedBackend())
	id := create(t, r, t.TempDir(), newRecorder())

	state, err := r.State(id)
	require.NoError(t, err)
	require.Equal(t, model.Stopped, state)

	require.Len(t, r.List(), 1)
	require.Equal(t, id, r.List()[0].ID)
}

func TestRegistry_CreateValidation(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	escape := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(t.TempDir(), escape))

	backend := newScriptedBackend()
	backend.caps.Modes = []model.PathMode{model.Flat}

	r := NewRegistry(Options{
		Backend: backend,
		Roots:   []string{root},
		Logger:  lg,
	})
	defer r.Close()

	tests := []struct {
		name     string
		req      CreateRequest
		expected error
	}{
		{
			name:     "unsupported mode",
			req:      CreateRequest{EventType: model.All, Path: root, Mode: model.Follow, Endpoint: newRecorder()},
			expected: model.ErrInvalidRequest,
		},
		{
			name:     "invalid event type",
			req:      CreateRequest{EventType: model.Create | model.Delete, Path: root, Mode: model.Flat, Endpoint: newRecorder()},
			expected: model.ErrInvalidRequest,
		},
		{
			name:     "missing endpoint",
			req:      CreateRequest{EventType: model.All, Path: root, Mode: model.Flat},
			expected: model.ErrInvalidRequest,
		},
		{
			name:     "missing path",
			req:      CreateRequest{EventType: model.All, Path: filepath.Join(root, "nope"), Mode: model.Flat, Endpoint: newRecorder()},
			expected: model.ErrPath,
		},
		{
			name:     "empty path",
			req:      CreateRequest{EventType: model.All, Mode: model.Flat, Endpoint: newRecorder()},
			expected: model.ErrPath,
		},
		{
			name:     "not a directory",
			req:      CreateRequest{EventType: model.All, Path: file, Mode: model.Flat, Endpoint: newRecorder()},
			expected: model.ErrPath,
		},
		{
			name:     "outside roots",
			req:      CreateRequest{EventType: model.All, Path: os.TempDir(), Mode: model.Flat, Endpoint: newRecorder()},
			expected: model.ErrPath,
		},
		{
			name:     "symlink leaving roots",
			req:      CreateRequest{EventType: model.All, Path: escape, Mode: model.Flat, Endpoint: newRecorder()},
			expected: model.ErrPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := r.Create(tt.req)
			require.ErrorIs(t, err, tt.expected)
			require.Empty(t, id)
		})
	}
	require.Empty(t, r.List(), "failed creations must not register watches")
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	r := newTestRegistry(t, newScriptedBackend())
	root := t.TempDir()

	seen := make(map[model.WatchID]struct{})
	for i := 0; i < 50; i++ {
		id := create(t, r, root, newRecorder())
		_, dup := seen[id]
		require.False(t, dup, "id %s reused", id)
		seen[id] = struct{}{}
		require.NoError(t, r.Destroy(id))
	}
}

func TestRegistry_StartIsIdempotent(t *testing.T) {
	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)
	id := create(t, r, t.TempDir(), newRecorder())

	require.NoError(t, r.Start(id))
	require.NoError(t, r.Start(id))
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.attaches), "second start must not attach again")

	state, err := r.State(id)
	require.NoError(t, err)
	require.Equal(t, model.Started, state)
}

func TestRegistry_StopOnStoppedWatch(t *testing.T) {
	r := newTestRegistry(t, newScriptedBackend())
	id := create(t, r, t.TempDir(), newRecorder())

	require.NoError(t, r.Stop(id))
	require.NoError(t, r.Start(id))
	require.NoError(t, r.Stop(id))
	require.NoError(t, r.Stop(id))

	state, err := r.State(id)
	require.NoError(t, err)
	require.Equal(t, model.Stopped, state)
}

func TestRegistry_UnknownID(t *testing.T) {
	r := newTestRegistry(t, newScriptedBackend())
	destroyed := create(t, r, t.TempDir(), newRecorder())
	require.NoError(t, r.Destroy(destroyed))

	for _, id := range []model.WatchID{"never-issued", destroyed} {
		t.Run(string(id), func(t *testing.T) {
			require.ErrorIs(t, r.Start(id), model.ErrUnknownID)
			require.ErrorIs(t, r.Stop(id), model.ErrUnknownID)
			require.ErrorIs(t, r.Destroy(id), model.ErrUnknownID)
			_, err := r.State(id)
			require.ErrorIs(t, err, model.ErrUnknownID)
			_, err = r.Root(id)
			require.ErrorIs(t, err, model.ErrUnknownID)
		})
	}
}

func TestRegistry_DestroyWhileStarted(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)
	rec := newRecorder()
	id := create(t, r, t.TempDir(), rec)
	require.NoError(t, r.Start(id))
	src := backend.last()

	require.True(t, src.send("/data/a.txt", model.Create))
	rec.waitEvents(t, 1)

	require.NoError(t, r.Destroy(id))
	require.True(t, src.detached.Load(), "destroy must stop the source")
	require.False(t, src.send("/data/b.txt", model.Create), "no raw events after destroy")

	_, err := r.State(id)
	require.ErrorIs(t, err, model.ErrUnknownID)
	require.NoError(t, r.Close())
}

func TestRegistry_StartFailure(t *testing.T) {
	backend := newScriptedBackend()
	backend.attachErr = errors.Join(model.ErrPath, errors.New("vanished"))
	r := newTestRegistry(t, backend)
	id := create(t, r, t.TempDir(), newRecorder())

	require.ErrorIs(t, r.Start(id), model.ErrPath)
	require.NoError(t, r.Destroy(id), "a failed watch can always be destroyed")
}

func TestRegistry_DeliversInCaptureOrder(t *testing.T) {
	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)
	rec := newRecorder()
	root := t.TempDir()
	id := create(t, r, root, rec)
	require.NoError(t, r.Start(id))
	src := backend.last()

	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, src.send(filepath.Join(root, fmt.Sprintf("p%03d.txt", i)), model.Modify))
	}

	got := rec.waitEvents(t, n)
	require.Len(t, got, n, "no duplicates")
	for i, e := range got {
		expected := model.NewFileID("file", "test-host", filepath.ToSlash(filepath.Join(root, fmt.Sprintf("p%03d.txt", i))))
		require.Equal(t, expected, e.FileID)
		require.Equal(t, model.Modify, e.EventType)
	}
	for _, wid := range rec.ids {
		require.Equal(t, id, wid)
	}
}

func TestRegistry_AppliesFilter(t *testing.T) {
	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)
	rec := newRecorder()
	id := create(t, r, t.TempDir(), rec, func(req *CreateRequest) {
		req.EventType = model.Create
		req.Whitelist = []string{"tif"}
		req.Blacklist = []string{"tmp"}
	})
	require.NoError(t, r.Start(id))
	src := backend.last()

	require.True(t, src.send("/d/a.tmp.tif", model.Create))
	require.True(t, src.send("/d/b.tif.tmp", model.Create))
	require.True(t, src.send("/d/c.tif", model.Modify))
	require.True(t, src.send("/d/d.png", model.Create))
	require.True(t, src.send("/d/e.tif", model.Create))

	got := rec.waitEvents(t, 2)
	time.Sleep(50 * time.Millisecond)
	got = rec.events()
	require.Len(t, got, 2)
	assert.Equal(t, model.FileID("file://test-host/d/a.tmp.tif"), got[0].FileID)
	assert.Equal(t, model.FileID("file://test-host/d/e.tif"), got[1].FileID)
}

func TestRegistry_StopKeepsDraining(t *testing.T) {
	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)
	rec := newRecorder()
	rec.block()
	id := create(t, r, t.TempDir(), rec)
	require.NoError(t, r.Start(id))
	src := backend.last()

	require.True(t, src.send("/d/1", model.Create))
	<-rec.entered
	require.True(t, src.send("/d/2", model.Create))
	require.True(t, src.send("/d/3", model.Create))

	require.NoError(t, r.Stop(id))
	require.False(t, src.send("/d/4", model.Create), "stopped source takes no events")

	rec.release()
	got := rec.waitEvents(t, 3)
	require.Len(t, got, 3)
	require.Equal(t, model.FileID("file://test-host/d/3"), got[2].FileID)

	info, err := r.Info(id)
	require.NoError(t, err)
	require.Equal(t, model.Stopped, info.State)
	require.Eventually(t, func() bool {
		info, _ := r.Info(id)
		return info.Pending == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_RestartAfterStop(t *testing.T) {
	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)
	rec := newRecorder()
	id := create(t, r, t.TempDir(), rec)

	require.NoError(t, r.Start(id))
	require.True(t, backend.last().send("/d/first", model.Create))
	require.NoError(t, r.Stop(id))
	require.NoError(t, r.Start(id))
	require.True(t, backend.last().send("/d/second", model.Create))

	got := rec.waitEvents(t, 2)
	require.Equal(t, model.FileID("file://test-host/d/first"), got[0].FileID)
	require.Equal(t, model.FileID("file://test-host/d/second"), got[1].FileID)
	require.Equal(t, int32(2), atomic.LoadInt32(&backend.attaches))
}

func TestRegistry_SlowClientDoesNotBlockOthers(t *testing.T) {
	backend := newScriptedBackend()
	r := newTestRegistry(t, backend)

	slow := newRecorder()
	slow.block()
	defer slow.release()
	slowID := create(t, r, t.TempDir(), slow)
	require.NoError(t, r.Start(slowID))
	slowSrc := backend.last()

	fast := newRecorder()
	fastID := create(t, r, t.TempDir(), fast)
	require.NoError(t, r.Start(fastID))
	fastSrc := backend.last()

	require.True(t, slowSrc.send("/slow/1", model.Create))
	<-slow.entered
	for i := 0; i < 10; i++ {
		require.True(t, slowSrc.send(fmt.Sprintf("/slow/%d", i+2), model.Create))
		require.True(t, fastSrc.send(fmt.Sprintf("/fast/%d", i), model.Create))
	}

	require.Len(t, fast.waitEvents(t, 10), 10)
	require.Empty(t, slow.events())

	// control plane is not held up by the blocked delivery either
	require.NoError(t, r.Stop(slowID))
	require.NoError(t, r.Destroy(slowID))
}

func TestRegistry_ConcurrentControlPlane(t *testing.T) {
	r := newTestRegistry(t, newScriptedBackend())
	root := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id, err := r.Create(CreateRequest{EventType: model.All, Path: root, Mode: model.Recurse, Endpoint: newRecorder()})
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, r.Start(id))
				_, err = r.State(id)
				assert.NoError(t, err)
				assert.NoError(t, r.Stop(id))
				assert.NoError(t, r.Destroy(id))
			}
		}()
	}
	wg.Wait()
	require.Empty(t, r.List())
}

func TestRegistry_CloseDestroysEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := newScriptedBackend()
	r := NewRegistry(Options{Backend: backend, Dispatch: fastDispatch, Logger: lg})

	rec := newRecorder()
	rec.block()
	ids := make([]model.WatchID, 0, 5)
	for i := 0; i < 5; i++ {
		id := create(t, r, t.TempDir(), rec)
		require.NoError(t, r.Start(id))
		ids = append(ids, id)
	}
	require.True(t, backend.last().send("/d/pending", model.Create))
	<-rec.entered

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	for _, id := range ids {
		_, err := r.State(id)
		require.ErrorIs(t, err, model.ErrUnknownID)
	}

	_, err := r.Create(CreateRequest{EventType: model.All, Path: t.TempDir(), Mode: model.Flat, Endpoint: rec})
	require.ErrorIs(t, err, ErrRegistryClosed)
}

// Real filesystem, fsnotify backend: a directory created under a Follow
// watch is observed, the same directory under a Recurse watch is not.
func TestRegistry_FollowVersusRecurse(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRegistry(Options{Backend: watcher.NewFSNotify(), Scheme: "file", Host: "h", Dispatch: fastDispatch, Logger: lg})
	defer r.Close()

	run := func(mode model.PathMode) (*recorder, string) {
		root := t.TempDir()
		rec := newRecorder()
		id := create(t, r, root, rec, func(req *CreateRequest) { req.Mode = mode })
		require.NoError(t, r.Start(id))

		sub := filepath.Join(root, "sub")
		require.NoError(t, os.Mkdir(sub, 0o755))
		rec.waitEvents(t, 1)

		file := filepath.Join(sub, "inside.txt")
		require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))
		return rec, file
	}

	hasFile := func(rec *recorder, file string) bool {
		want := model.NewFileID("file", "h", filepath.ToSlash(file))
		for _, e := range rec.events() {
			if e.FileID == want {
				return true
			}
		}
		return false
	}

	follow, followFile := run(model.Follow)
	require.Eventually(t, func() bool { return hasFile(follow, followFile) }, 3*time.Second, 10*time.Millisecond)

	recurse, recurseFile := run(model.Recurse)
	time.Sleep(300 * time.Millisecond)
	require.False(t, hasFile(recurse, recurseFile), "recurse mode must not observe new directories")

	require.NoError(t, r.Close())
}
