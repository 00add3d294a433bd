package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

// Subscriber runs a callback receiver and keeps a set of watches alive on
// the server for as long as it is served. Its watches are destroyed on exit.
type Subscriber struct {
	client   *Client
	listen   string
	callback string
	watches  []protocol.CreateWatchRequest
	handle   BatchHandler
	logger   *logger.Logger

	// started receives the receiver address; only set by tests.
	started chan string
}

// NewSubscriber returns a subscriber whose receiver listens on listen and is
// reachable by the server at callbackURL.
func NewSubscriber(c *Client, listen, callbackURL string, watches []protocol.CreateWatchRequest, handle BatchHandler, lg *logger.Logger) *Subscriber {
	if lg == nil {
		lg = logger.Discard()
	}
	if handle == nil {
		handle = LogBatch(lg)
	}
	return &Subscriber{
		client:   c,
		listen:   listen,
		callback: callbackURL,
		watches:  watches,
		handle:   handle,
		logger:   lg,
	}
}

func (s *Subscriber) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	defer l.Close()

	srv := http.Server{
		Handler:           NewReceiver(s.handle, s.logger),
		ReadHeaderTimeout: 15 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}
	serveError := make(chan error, 1)
	go func() {
		serveError <- srv.Serve(l)
	}()
	defer func() {
		timeout, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(timeout); err != nil {
			srv.Close()
		}
	}()
	s.logger.Infof("client :: receiving notifications on %s", l.Addr())

	ids, err := s.subscribe(ctx)
	defer s.unsubscribe(ids)
	if err != nil {
		return err
	}

	if s.started != nil {
		select {
		case <-ctx.Done():
		case s.started <- l.Addr().String():
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveError:
		return err
	}
}

func (s *Subscriber) subscribe(ctx context.Context) ([]model.WatchID, error) {
	ids := make([]model.WatchID, 0, len(s.watches))
	for _, w := range s.watches {
		w.CallbackURL = s.callback
		id, err := s.client.CreateWatch(ctx, w)
		if err != nil {
			return ids, fmt.Errorf("create watch on %s: %w", w.Path, err)
		}
		ids = append(ids, id)
		if err := s.client.Start(ctx, id); err != nil {
			return ids, fmt.Errorf("start watch %s: %w", id, err)
		}
	}
	return ids, nil
}

// unsubscribe runs after ctx is done and so uses its own deadline.
func (s *Subscriber) unsubscribe(ids []model.WatchID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := s.client.Destroy(ctx, id); err != nil && !errors.Is(err, model.ErrUnknownID) {
			s.logger.Warnf("client error :: destroy watch %s: %v", id, err)
		}
	}
}

func (s *Subscriber) String() string {
	return fmt.Sprintf("client.Subscriber@%s", s.listen)
}
