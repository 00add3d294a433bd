package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

var ErrClientCallbackStatus = errors.New("callback refused the batch")

// Callback delivers notification batches to a client's callback URL. Any
// 2xx answer acknowledges the batch.
type Callback struct {
	url string
	hc  *http.Client
}

var _ monitor.Endpoint = (*Callback)(nil)

// NewCallback returns an endpoint posting to url. Timeouts come from the
// dispatcher's context, so hc should not set one.
func NewCallback(url string, hc *http.Client) *Callback {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Callback{url: url, hc: hc}
}

func (c *Callback) URL() string { return c.url }

func (c *Callback) Notify(ctx context.Context, id model.WatchID, events []model.NotificationEvent) error {
	bs, err := json.Marshal(protocol.NotificationBatch{WatchID: id, Events: events})
	if err != nil {
		return errors.Join(ErrClientMarshalPacket, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bs))
	if err != nil {
		return errors.Join(ErrClientRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(protocol.HeaderWatchID, string(id))

	res, err := c.hc.Do(req)
	if err != nil {
		return errors.Join(ErrClientRequest, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errors.Join(ErrClientCallbackStatus, fmt.Errorf("%s answered %s", c.url, res.Status))
	}
	return nil
}

// BatchHandler consumes one delivered batch. Returning an error makes the
// server retry the batch.
type BatchHandler func(ctx context.Context, batch protocol.NotificationBatch) error

// Receiver is the http.Handler behind a callback URL.
type Receiver struct {
	handle BatchHandler
	logger *logger.Logger
}

func NewReceiver(handle BatchHandler, lg *logger.Logger) *Receiver {
	if lg == nil {
		lg = logger.Discard()
	}
	return &Receiver{handle: handle, logger: lg}
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch protocol.NotificationBatch
	if err := json.NewDecoder(req.Body).Decode(&batch); err != nil {
		r.logger.Warnf("receiver error :: bad batch from %s: %v", req.RemoteAddr, err)
		http.Error(w, "invalid batch", http.StatusBadRequest)
		return
	}

	if err := r.handle(req.Context(), batch); err != nil {
		r.logger.Errorf("receiver error :: watch %s batch of %d events: %v", batch.WatchID, len(batch.Events), err)
		http.Error(w, "batch not processed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogBatch is a BatchHandler that only logs the events.
func LogBatch(lg *logger.Logger) BatchHandler {
	return func(_ context.Context, batch protocol.NotificationBatch) error {
		for _, e := range batch.Events {
			lg.Infof("client :: watch %s %s %s", batch.WatchID, e.EventType, e.FileID)
		}
		return nil
	}
}
