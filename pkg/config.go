package pkg

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/watcher"
)

type Type string

const (
	ServerType Type = "server"
	ClientType Type = "client"
)

const (
	DefaultAddress = "localhost:8443"
	DefaultListen  = "localhost:8444"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type ServerTLSConfig struct {
	Key  string `yaml:"key"`
	Cert string `yaml:"cert"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

type DispatchConfig struct {
	Attempts       int           `yaml:"attempts"`
	Timeout        time.Duration `yaml:"timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxBatch       int           `yaml:"max_batch"`
}

type ServerConfig struct {
	TLS    ServerTLSConfig `yaml:"tls"`
	PwFile string          `yaml:"pwfile"`
	// Backend forces a watcher backend, fsnotify or notify.
	Backend string `yaml:"backend"`
	Scheme  string `yaml:"scheme"`
	// Host goes into file ids; defaults to the machine hostname.
	Host         string         `yaml:"host"`
	Roots        []string       `yaml:"roots"`
	MaxBlockSize int64          `yaml:"max_block_size"`
	Dispatch     DispatchConfig `yaml:"dispatch"`
}

type WatchConfig struct {
	Path      string          `yaml:"path"`
	EventType model.EventType `yaml:"event_type"`
	Mode      model.PathMode  `yaml:"mode"`
	Whitelist []string        `yaml:"whitelist"`
	Blacklist []string        `yaml:"blacklist"`
}

type ClientConfig struct {
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	// Listen is the address of the callback receiver.
	Listen string `yaml:"listen"`
	// CallbackURL is the receiver address as seen from the server.
	CallbackURL string        `yaml:"callback_url"`
	Watches     []WatchConfig `yaml:"watches"`
}

type Config struct {
	ServiceType Type         `yaml:"type"`
	Address     string       `yaml:"address"`
	Log         LogConfig    `yaml:"log"`
	Client      ClientConfig `yaml:"client"`
	Server      ServerConfig `yaml:"server"`
}

func ReadConfig(file string) (*Config, error) {
	yfile, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return ParseConfig(yfile)
}

func ParseConfig(data []byte) (*Config, error) {
	c := Config{}
	err := yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.ServiceType == "" {
		c.ServiceType = ServerType
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Server.Scheme == "" {
		c.Server.Scheme = "file"
	}
	if c.Server.Host == "" {
		c.Server.Host, _ = os.Hostname()
	}
	if c.Client.Listen == "" {
		c.Client.Listen = DefaultListen
	}
	if c.Client.CallbackURL == "" {
		c.Client.CallbackURL = "http://" + c.Client.Listen + "/callback"
	}
	for i := range c.Client.Watches {
		w := &c.Client.Watches[i]
		if w.EventType == 0 {
			w.EventType = model.All
		}
		if w.Mode == 0 {
			w.Mode = model.Flat
		}
	}
}

func (c *Config) Validate() error {
	switch c.ServiceType {
	case ServerType, ClientType:
	default:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("type %q, expected %q or %q", c.ServiceType, ServerType, ClientType))
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("log level %q", c.Log.Level))
	}
	switch c.Server.Backend {
	case "", watcher.BackendFSNotify, watcher.BackendNotify:
	default:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("server backend %q", c.Server.Backend))
	}
	if (c.Server.TLS.Cert == "") != (c.Server.TLS.Key == "") {
		return errors.Join(ErrInvalidConfig, errors.New("server tls needs both key and cert"))
	}
	if c.Server.Dispatch.Attempts < 0 || c.Server.Dispatch.MaxBatch < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("dispatch attempts and max_batch must not be negative"))
	}
	for i, w := range c.Client.Watches {
		if w.Path == "" {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("client watch %d has no path", i))
		}
	}
	return nil
}

// LogLevel returns the configured minimum log level.
func (c *Config) LogLevel() logger.Level {
	l, _ := logger.ParseLevel(c.Log.Level)
	return l
}
