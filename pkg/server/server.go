// Package server exposes the monitor registry and the file resolver over an
// HTTP/JSON API.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/client"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/user"
)

var (
	ErrServerListen      = errors.New("failed to listen")
	ErrServerTLS         = errors.New("failed to load tls key pair")
	ErrServerBadCallback = errors.New("invalid callback url")
)

// EndpointFactory builds the endpoint notified for a watch created with
// callbackURL.
type EndpointFactory func(callbackURL string) (monitor.Endpoint, error)

type Server struct {
	address  string
	registry *monitor.Registry
	resolver *filehandler.Resolver
	users    *user.UserManager
	endpoint EndpointFactory
	certFile string
	keyFile  string
	logger   *logger.Logger

	// started receives the listening address; only set by tests.
	started chan string
}

type Option func(*Server)

func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithUsers enables HTTP basic authentication on the API.
func WithUsers(um *user.UserManager) Option {
	return func(s *Server) { s.users = um }
}

func WithEndpointFactory(f EndpointFactory) Option {
	return func(s *Server) { s.endpoint = f }
}

func WithLogger(lg *logger.Logger) Option {
	return func(s *Server) {
		if lg != nil {
			s.logger = lg
		}
	}
}

func NewServer(address string, registry *monitor.Registry, resolver *filehandler.Resolver, opts ...Option) *Server {
	s := &Server{
		address:  address,
		registry: registry,
		resolver: resolver,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.endpoint == nil {
		s.endpoint = CallbackEndpoints(nil)
	}
	return s
}

// CallbackEndpoints posts notifications with hc to http(s) callback URLs.
func CallbackEndpoints(hc *http.Client) EndpointFactory {
	return func(callbackURL string) (monitor.Endpoint, error) {
		u, err := url.Parse(callbackURL)
		if err != nil {
			return nil, errors.Join(ErrServerBadCallback, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errors.Join(ErrServerBadCallback, fmt.Errorf("%q is not an http url", callbackURL))
		}
		return client.NewCallback(u.String(), hc), nil
	}
}

// Handler returns the complete API handler.
func (s *Server) Handler() http.Handler {
	api := httprouter.New()

	api.HandlerFunc(http.MethodPost, protocol.PathWatches, s.postWatch)
	api.HandlerFunc(http.MethodGet, protocol.PathWatches, s.getWatches)
	api.GET(protocol.PathWatches+"/:id", s.getWatch)
	api.DELETE(protocol.PathWatches+"/:id", s.deleteWatch)
	api.POST(protocol.PathWatches+"/:id/start", s.postStart)
	api.POST(protocol.PathWatches+"/:id/stop", s.postStop)
	api.GET(protocol.PathWatches+"/:id/list", s.getWatchList)
	api.HandlerFunc(http.MethodGet, protocol.PathList, s.getList)
	api.GET(protocol.PathFiles+"/:op", s.getFile)

	api.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, errors.Join(model.ErrInvalidRequest, errors.New("no such route")))
	})
	api.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, protocol.ErrorPayload{
			Reason: "method not allowed",
			Kind:   model.KindInvalidRequest.String(),
		})
	})
	api.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.logger.Errorf("server error :: panic serving %s %s: %v", r.Method, r.URL.Path, v)
		writeError(w, errors.Join(model.ErrCatchAll, fmt.Errorf("internal error")))
	}

	var handler http.Handler = api
	if s.users != nil {
		handler = basicAuthMiddleware(s.users, handler, s.logger)
	}
	handler = metricsMiddleware(handler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", handler)
	mux.Handle(protocol.PathMetrics, promhttp.Handler())
	mux.HandleFunc(protocol.PathPing, func(w http.ResponseWriter, _ *http.Request) {
		sendJSON(w, map[string]string{"ping": "pong"})
	})
	return mux
}

func (s *Server) listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, errors.Join(ErrServerListen, err)
	}
	if s.certFile == "" && s.keyFile == "" {
		return l, nil
	}

	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		l.Close()
		return nil, errors.Join(ErrServerTLS, err)
	}
	return tls.NewListener(l, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Serve runs the API until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	l, err := s.listen()
	if err != nil {
		s.logger.Errorf("server error :: %v", model.Reason(err))
		return err
	}
	defer l.Close()

	srv := http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}

	s.logger.Infof("server :: listening on %s (tls: %t, auth: %t)", l.Addr(), s.certFile != "", s.users != nil)
	if s.started != nil {
		select {
		case <-ctx.Done():
		case s.started <- l.Addr().String():
		}
	}

	serveError := make(chan error, 1)
	go func() {
		serveError <- srv.Serve(l)
	}()

	select {
	case <-ctx.Done():
		s.logger.Infof("server :: shutting down")
	case err = <-serveError:
		s.logger.Errorf("server error :: %v", err)
	}

	timeout, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if serr := srv.Shutdown(timeout); serr != nil {
		srv.Close()
	}
	return err
}

func (s *Server) String() string {
	return fmt.Sprintf("server.Server@%s", s.address)
}
