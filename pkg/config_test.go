package pkg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

const serverConfig = `
type: server
address: 0.0.0.0:9443
log:
  level: debug
  color: true
server:
  tls:
    key: /etc/fsmonitor/server.key
    cert: /etc/fsmonitor/server.crt
  pwfile: /etc/fsmonitor/pwfile
  backend: fsnotify
  host: storage-1
  roots:
    - /data/images
    - /data/scans
  dispatch:
    attempts: 3
    timeout: 5s
    initial_backoff: 100ms
    max_backoff: 2s
    max_batch: 500
`

const clientConfig = `
type: client
address: https://storage-1:9443
client:
  tls: true
  username: alice
  password: secret
  listen: 0.0.0.0:7000
  callback_url: http://worker-1:7000/callback
  watches:
    - path: /data/images
      event_type: Create
      mode: Follow
      whitelist: [tif, tiff]
      blacklist: [tmp]
    - path: /data/scans
`

func TestReadConfig_Server(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte(serverConfig), 0o644))

	c, err := ReadConfig(file)
	require.NoError(t, err)

	assert.Equal(t, ServerType, c.ServiceType)
	assert.Equal(t, "0.0.0.0:9443", c.Address)
	assert.Equal(t, logger.LevelDebug, c.LogLevel())
	assert.True(t, c.Log.Color)
	assert.Equal(t, "/etc/fsmonitor/server.key", c.Server.TLS.Key)
	assert.Equal(t, "/etc/fsmonitor/pwfile", c.Server.PwFile)
	assert.Equal(t, "fsnotify", c.Server.Backend)
	assert.Equal(t, "file", c.Server.Scheme)
	assert.Equal(t, "storage-1", c.Server.Host)
	assert.Equal(t, []string{"/data/images", "/data/scans"}, c.Server.Roots)
	assert.Equal(t, DispatchConfig{
		Attempts:       3,
		Timeout:        5 * time.Second,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxBatch:       500,
	}, c.Server.Dispatch)
}

func TestParseConfig_Client(t *testing.T) {
	c, err := ParseConfig([]byte(clientConfig))
	require.NoError(t, err)

	assert.Equal(t, ClientType, c.ServiceType)
	assert.True(t, c.Client.TLS)
	assert.Equal(t, "http://worker-1:7000/callback", c.Client.CallbackURL)
	require.Len(t, c.Client.Watches, 2)

	assert.Equal(t, WatchConfig{
		Path:      "/data/images",
		EventType: model.Create,
		Mode:      model.Follow,
		Whitelist: []string{"tif", "tiff"},
		Blacklist: []string{"tmp"},
	}, c.Client.Watches[0])
	assert.Equal(t, model.All, c.Client.Watches[1].EventType)
	assert.Equal(t, model.Flat, c.Client.Watches[1].Mode)
}

func TestParseConfig_Defaults(t *testing.T) {
	c, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ServerType, c.ServiceType)
	assert.Equal(t, DefaultAddress, c.Address)
	assert.Equal(t, logger.LevelInfo, c.LogLevel())
	assert.Equal(t, "file", c.Server.Scheme)
	assert.Equal(t, DefaultListen, c.Client.Listen)
	assert.Equal(t, "http://"+DefaultListen+"/callback", c.Client.CallbackURL)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "type", yaml: "type: peer"},
		{name: "log level", yaml: "log: {level: loud}"},
		{name: "backend", yaml: "server: {backend: inotify2}"},
		{name: "half tls", yaml: "server: {tls: {key: a.key}}"},
		{name: "negative attempts", yaml: "server: {dispatch: {attempts: -1}}"},
		{name: "bad duration", yaml: "server: {dispatch: {timeout: soon}}"},
		{name: "bad event type", yaml: "client: {watches: [{path: /x, event_type: Rename}]}"},
		{name: "watch without path", yaml: "client: {watches: [{mode: Recurse}]}"},
		{name: "not yaml", yaml: "type: [server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestReadConfig_MissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
