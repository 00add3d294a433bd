package pkg

import (
	"context"
	"crypto/tls"

	"github.com/thejerf/suture/v4"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/client"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/server"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/user"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/watcher"
)

func supervisor(name string, lg *logger.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			lg.Warnf("supervisor :: %s", e)
		},
	})
}

// NewServerService wires the watcher backend, registry, resolver and API of
// a server configuration into one supervisor.
func NewServerService(cfg *Config, lg *logger.Logger) (*suture.Supervisor, error) {
	var (
		backend watcher.Backend
		err     error
	)
	if cfg.Server.Backend != "" {
		backend, err = watcher.ByName(cfg.Server.Backend, watcher.WithLogger(lg))
		if err != nil {
			return nil, err
		}
	} else {
		backend = watcher.DefaultBackend(watcher.WithLogger(lg))
	}
	lg.Infof("server :: using %s watcher backend", backend.Name())

	d := cfg.Server.Dispatch
	registry := monitor.NewRegistry(monitor.Options{
		Backend: backend,
		Scheme:  cfg.Server.Scheme,
		Host:    cfg.Server.Host,
		Roots:   cfg.Server.Roots,
		Dispatch: monitor.DispatchOptions{
			Attempts:       d.Attempts,
			Timeout:        d.Timeout,
			InitialBackoff: d.InitialBackoff,
			MaxBackoff:     d.MaxBackoff,
			MaxBatch:       d.MaxBatch,
		},
		Logger: lg,
	})
	resolver := filehandler.NewResolver(cfg.Server.Scheme, cfg.Server.Host,
		filehandler.WithRoots(cfg.Server.Roots...),
		filehandler.WithMaxBlockSize(cfg.Server.MaxBlockSize),
		filehandler.WithLogger(lg))

	opts := []server.Option{server.WithLogger(lg)}
	if cfg.Server.TLS.Cert != "" {
		opts = append(opts, server.WithTLS(cfg.Server.TLS.Cert, cfg.Server.TLS.Key))
	}
	if cfg.Server.PwFile != "" {
		um, err := user.New(cfg.Server.PwFile)
		if err != nil {
			return nil, err
		}
		lg.Infof("server :: %d api users loaded from %s", um.Len(), cfg.Server.PwFile)
		opts = append(opts, server.WithUsers(um))
	}

	sup := supervisor("fsmonitor-server", lg)
	sup.Add(registry)
	sup.Add(server.NewServer(cfg.Address, registry, resolver, opts...))
	return sup, nil
}

// NewClientService wires a subscriber for the watches of a client
// configuration. handle may be nil to only log notifications.
func NewClientService(cfg *Config, handle client.BatchHandler, lg *logger.Logger) (*suture.Supervisor, error) {
	var tlsCfg *tls.Config
	if cfg.Client.TLS {
		tlsCfg = &tls.Config{InsecureSkipVerify: cfg.Client.InsecureSkipVerify}
	}
	c, err := client.NewClient(cfg.Address, cfg.Client.Username, cfg.Client.Password, tlsCfg, lg)
	if err != nil {
		return nil, err
	}

	watches := make([]protocol.CreateWatchRequest, 0, len(cfg.Client.Watches))
	for _, w := range cfg.Client.Watches {
		watches = append(watches, protocol.CreateWatchRequest{
			EventType: w.EventType,
			Path:      w.Path,
			Whitelist: w.Whitelist,
			Blacklist: w.Blacklist,
			Mode:      w.Mode,
		})
	}

	sup := supervisor("fsmonitor-client", lg)
	sup.Add(client.NewSubscriber(c, cfg.Client.Listen, cfg.Client.CallbackURL, watches, handle, lg))
	return sup, nil
}

// Run serves the service described by cfg until ctx is done.
func Run(ctx context.Context, cfg *Config, lg *logger.Logger) error {
	var (
		sup *suture.Supervisor
		err error
	)
	switch cfg.ServiceType {
	case ClientType:
		sup, err = NewClientService(cfg, nil, lg)
	default:
		sup, err = NewServerService(cfg, lg)
	}
	if err != nil {
		return err
	}

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
