// Package protocol holds the JSON documents exchanged over the HTTP API and
// pushed to client callbacks.
package protocol

import (
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

/*
	client                                     fsmonitor
	  POST /v1/watches {CreateWatchRequest} -----> create
	  <----------------------- {CreateWatchResponse}
	  POST /v1/watches/:id/start ----------------> start
	  <------------------ POST callback {NotificationBatch}
	  2xx ---------------------------------------> ack
	  DELETE /v1/watches/:id --------------------> destroy
*/

const (
	PathWatches = "/v1/watches"
	PathList    = "/v1/list"
	PathFiles   = "/v1/files"
	PathMetrics = "/metrics"
	PathPing    = "/ping"

	// HeaderWatchID is set on every callback request.
	HeaderWatchID = "X-Fsmonitor-Watch"
)

// File query operations served under PathFiles.
const (
	OpStats  = "stats"
	OpSize   = "size"
	OpOwner  = "owner"
	OpCTime  = "ctime"
	OpMTime  = "mtime"
	OpATime  = "atime"
	OpIsDir  = "isdir"
	OpIsFile = "isfile"
	OpSHA1   = "sha1"
	OpBlock  = "block"
)

type CreateWatchRequest struct {
	EventType model.EventType `json:"event_type,omitempty"`
	Path      string          `json:"path"`
	Whitelist []string        `json:"whitelist,omitempty"`
	Blacklist []string        `json:"blacklist,omitempty"`
	Mode      model.PathMode  `json:"mode,omitempty"`
	// CallbackURL receives NotificationBatch documents.
	CallbackURL string `json:"callback_url"`
}

type CreateWatchResponse struct {
	ID model.WatchID `json:"id"`
}

type StateResponse struct {
	ID    model.WatchID `json:"id"`
	State model.State   `json:"state"`
}

type NotificationBatch struct {
	WatchID model.WatchID             `json:"watch_id"`
	Events  []model.NotificationEvent `json:"events"`
}

// ErrorPayload is the catch-all error body of every failed request.
type ErrorPayload struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind,omitempty"`
}

// ValuePayload carries the result of single value file queries.
type ValuePayload[T any] struct {
	FileID model.FileID `json:"file_id"`
	Value  T            `json:"value"`
}

type (
	SizePayload  = ValuePayload[int64]
	OwnerPayload = ValuePayload[string]
	TimePayload  = ValuePayload[time.Time]
	BoolPayload  = ValuePayload[bool]
	HashPayload  = ValuePayload[string]
)

type StatsPayload struct {
	FileID model.FileID `json:"file_id"`
	model.FileStats
}

type ListPayload struct {
	Path    string         `json:"path"`
	Entries []StatsPayload `json:"entries"`
}
