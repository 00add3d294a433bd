package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

const maxRequestBody = 1 << 20

func sendJSON(w http.ResponseWriter, v interface{}) {
	writeStatus(w, http.StatusOK, v)
}

func writeStatus(w http.ResponseWriter, status int, v interface{}) {
	bs, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		bs, _ = json.Marshal(protocol.ErrorPayload{Reason: err.Error(), Kind: model.KindCatchAll.String()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(bs, '\n'))
}

// statusOf maps the error taxonomy to HTTP status codes.
func statusOf(k model.Kind) int {
	switch k {
	case model.KindUnknownID:
		return http.StatusNotFound
	case model.KindInvalidRequest:
		return http.StatusBadRequest
	case model.KindPath:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	k := model.KindOf(err)
	writeStatus(w, statusOf(k), protocol.ErrorPayload{Reason: model.Reason(err), Kind: k.String()})
}

func watchID(ps httprouter.Params) model.WatchID {
	return model.WatchID(ps.ByName("id"))
}

func (s *Server) postWatch(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateWatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, errors.Join(model.ErrInvalidRequest, err))
		return
	}
	if req.EventType == 0 {
		req.EventType = model.All
	}
	if req.Mode == 0 {
		req.Mode = model.Flat
	}

	ep, err := s.endpoint(req.CallbackURL)
	if err != nil {
		writeError(w, errors.Join(model.ErrInvalidRequest, err))
		return
	}

	id, err := s.registry.Create(monitor.CreateRequest{
		EventType: req.EventType,
		Path:      req.Path,
		Whitelist: req.Whitelist,
		Blacklist: req.Blacklist,
		Mode:      req.Mode,
		Endpoint:  ep,
	})
	if err != nil {
		s.logger.Warnf("server error :: create watch on %q: %s", req.Path, model.Reason(err))
		writeError(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, protocol.CreateWatchResponse{ID: id})
}

func (s *Server) getWatches(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, s.registry.List())
}

func (s *Server) getWatch(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	s.sendState(w, watchID(ps))
}

func (s *Server) sendState(w http.ResponseWriter, id model.WatchID) {
	state, err := s.registry.State(id)
	if err != nil {
		writeError(w, err)
		return
	}
	sendJSON(w, protocol.StateResponse{ID: id, State: state})
}

func (s *Server) deleteWatch(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if err := s.registry.Destroy(watchID(ps)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postStart(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := watchID(ps)
	if err := s.registry.Start(id); err != nil {
		writeError(w, err)
		return
	}
	s.sendState(w, id)
}

func (s *Server) postStop(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := watchID(ps)
	if err := s.registry.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	s.sendState(w, id)
}

// getWatchList lists a directory given relative to the watch root.
func (s *Server) getWatchList(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	root, err := s.registry.Root(watchID(ps))
	if err != nil {
		writeError(w, err)
		return
	}

	rel := r.URL.Query().Get("path")
	if filepath.IsAbs(rel) {
		writeError(w, errors.Join(model.ErrPath, fmt.Errorf("%q is not relative to the watch", rel)))
		return
	}
	dir := filepath.Join(root, filepath.FromSlash(rel))
	realRoot, err := filehandler.RealPath(root, true)
	if err != nil {
		writeError(w, errors.Join(model.ErrPath, err))
		return
	}
	realDir, err := filehandler.RealPath(dir, true)
	if err != nil {
		writeError(w, errors.Join(model.ErrPath, err))
		return
	}
	if !filehandler.Within([]string{realRoot}, realDir) {
		writeError(w, errors.Join(model.ErrPath, fmt.Errorf("%q leaves the watched directory", rel)))
		return
	}
	s.sendList(w, dir, r.URL.Query().Get("filter"))
}

func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	s.sendList(w, r.URL.Query().Get("path"), r.URL.Query().Get("filter"))
}

func (s *Server) sendList(w http.ResponseWriter, dir, filter string) {
	entries, err := s.resolver.ListDir(dir, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	res := protocol.ListPayload{Path: dir, Entries: make([]protocol.StatsPayload, 0, len(entries))}
	for _, e := range entries {
		res.Entries = append(res.Entries, protocol.StatsPayload{FileID: e.FileID, FileStats: e.FileStats})
	}
	sendJSON(w, res)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	id := model.FileID(q.Get("id"))
	if id == "" {
		writeError(w, errors.Join(model.ErrInvalidRequest, errors.New("file id is required")))
		return
	}

	var (
		res interface{}
		err error
	)
	switch op := ps.ByName("op"); op {
	case protocol.OpStats:
		var st model.FileStats
		st, err = s.resolver.Stats(id)
		res = protocol.StatsPayload{FileID: id, FileStats: st}
	case protocol.OpSize:
		res, err = value(id, s.resolver.Size)
	case protocol.OpOwner:
		res, err = value(id, s.resolver.Owner)
	case protocol.OpCTime:
		res, err = value(id, s.resolver.CTime)
	case protocol.OpMTime:
		res, err = value(id, s.resolver.MTime)
	case protocol.OpATime:
		res, err = value(id, s.resolver.ATime)
	case protocol.OpIsDir:
		res, err = value(id, s.resolver.IsDir)
	case protocol.OpIsFile:
		res, err = value(id, s.resolver.IsFile)
	case protocol.OpSHA1:
		res, err = value(id, s.resolver.SHA1)
	case protocol.OpBlock:
		s.sendBlock(w, id, q.Get("offset"), q.Get("size"))
		return
	default:
		err = errors.Join(model.ErrInvalidRequest, fmt.Errorf("unknown file operation %q", op))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	sendJSON(w, res)
}

func value[T any](id model.FileID, get func(model.FileID) (T, error)) (protocol.ValuePayload[T], error) {
	v, err := get(id)
	return protocol.ValuePayload[T]{FileID: id, Value: v}, err
}

func (s *Server) sendBlock(w http.ResponseWriter, id model.FileID, offsetParam, sizeParam string) {
	offset, err := strconv.ParseInt(offsetParam, 10, 64)
	if err != nil {
		writeError(w, errors.Join(model.ErrInvalidRequest, fmt.Errorf("offset: %w", err)))
		return
	}
	size, err := strconv.ParseInt(sizeParam, 10, 64)
	if err != nil {
		writeError(w, errors.Join(model.ErrInvalidRequest, fmt.Errorf("size: %w", err)))
		return
	}

	data, err := s.resolver.ReadBlock(id, offset, size)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
