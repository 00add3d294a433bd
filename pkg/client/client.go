// Package client talks to a fsmonitor server: it drives the watch API and
// receives the notification batches pushed to a callback.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

var (
	ErrClientRequest                 = errors.New("failed to send request")
	ErrClientMarshalPacket           = errors.New("failed to marshal request data")
	ErrClientUnmarshalResponsePacket = errors.New("failed to unmarshal response data")
	ErrClientAuthenticationFailed    = errors.New("authentication failed")
)

const defaultTimeout = 30 * time.Second

// Client is the HTTP API client of one fsmonitor server.
type Client struct {
	base     *url.URL
	username string
	password string
	hc       *http.Client
	logger   *logger.Logger
}

// NewClient returns a client for the server at address, either a URL or a
// host:port. tlsCfg switches a bare host:port to https.
func NewClient(address, username, password string, tlsCfg *tls.Config, lg *logger.Logger) (*Client, error) {
	if !strings.Contains(address, "://") {
		scheme := "http"
		if tlsCfg != nil {
			scheme = "https"
		}
		address = scheme + "://" + address
	}
	base, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if lg == nil {
		lg = logger.Discard()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &Client{
		base:     base,
		username: username,
		password: password,
		hc:       &http.Client{Transport: transport, Timeout: defaultTimeout},
		logger:   lg,
	}, nil
}

func (c *Client) CreateWatch(ctx context.Context, req protocol.CreateWatchRequest) (model.WatchID, error) {
	var res protocol.CreateWatchResponse
	if err := c.do(ctx, http.MethodPost, protocol.PathWatches, nil, req, &res); err != nil {
		return "", err
	}
	c.logger.Infof("client :: created watch %s on %s", res.ID, req.Path)
	return res.ID, nil
}

func (c *Client) Watches(ctx context.Context) ([]monitor.WatchInfo, error) {
	var res []monitor.WatchInfo
	err := c.do(ctx, http.MethodGet, protocol.PathWatches, nil, nil, &res)
	return res, err
}

func (c *Client) State(ctx context.Context, id model.WatchID) (model.State, error) {
	var res protocol.StateResponse
	err := c.do(ctx, http.MethodGet, watchPath(id), nil, nil, &res)
	return res.State, err
}

func (c *Client) Start(ctx context.Context, id model.WatchID) error {
	return c.do(ctx, http.MethodPost, watchPath(id)+"/start", nil, nil, nil)
}

func (c *Client) Stop(ctx context.Context, id model.WatchID) error {
	return c.do(ctx, http.MethodPost, watchPath(id)+"/stop", nil, nil, nil)
}

func (c *Client) Destroy(ctx context.Context, id model.WatchID) error {
	return c.do(ctx, http.MethodDelete, watchPath(id), nil, nil, nil)
}

// List lists path relative to the root of watch id.
func (c *Client) List(ctx context.Context, id model.WatchID, path, filter string) ([]protocol.StatsPayload, error) {
	var res protocol.ListPayload
	q := url.Values{"path": {path}, "filter": {filter}}
	err := c.do(ctx, http.MethodGet, watchPath(id)+"/list", q, nil, &res)
	return res.Entries, err
}

// ListAbs lists an absolute server path.
func (c *Client) ListAbs(ctx context.Context, path, filter string) ([]protocol.StatsPayload, error) {
	var res protocol.ListPayload
	q := url.Values{"path": {path}, "filter": {filter}}
	err := c.do(ctx, http.MethodGet, protocol.PathList, q, nil, &res)
	return res.Entries, err
}

func (c *Client) Stats(ctx context.Context, id model.FileID) (model.FileStats, error) {
	var res protocol.StatsPayload
	err := c.do(ctx, http.MethodGet, filePath(protocol.OpStats), fileQuery(id), nil, &res)
	return res.FileStats, err
}

func (c *Client) Size(ctx context.Context, id model.FileID) (int64, error) {
	return fileValue[int64](ctx, c, protocol.OpSize, id)
}

func (c *Client) Owner(ctx context.Context, id model.FileID) (string, error) {
	return fileValue[string](ctx, c, protocol.OpOwner, id)
}

func (c *Client) CTime(ctx context.Context, id model.FileID) (time.Time, error) {
	return fileValue[time.Time](ctx, c, protocol.OpCTime, id)
}

func (c *Client) MTime(ctx context.Context, id model.FileID) (time.Time, error) {
	return fileValue[time.Time](ctx, c, protocol.OpMTime, id)
}

func (c *Client) ATime(ctx context.Context, id model.FileID) (time.Time, error) {
	return fileValue[time.Time](ctx, c, protocol.OpATime, id)
}

func (c *Client) IsDir(ctx context.Context, id model.FileID) (bool, error) {
	return fileValue[bool](ctx, c, protocol.OpIsDir, id)
}

func (c *Client) IsFile(ctx context.Context, id model.FileID) (bool, error) {
	return fileValue[bool](ctx, c, protocol.OpIsFile, id)
}

func (c *Client) SHA1(ctx context.Context, id model.FileID) (string, error) {
	return fileValue[string](ctx, c, protocol.OpSHA1, id)
}

func (c *Client) ReadBlock(ctx context.Context, id model.FileID, offset, size int64) ([]byte, error) {
	q := fileQuery(id)
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("size", strconv.FormatInt(size, 10))

	res, err := c.send(ctx, http.MethodGet, filePath(protocol.OpBlock), q, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return io.ReadAll(io.LimitReader(res.Body, filehandler.DefaultMaxBlockSize))
}

func fileValue[T any](ctx context.Context, c *Client, op string, id model.FileID) (T, error) {
	var res protocol.ValuePayload[T]
	err := c.do(ctx, http.MethodGet, filePath(op), fileQuery(id), nil, &res)
	return res.Value, err
}

func watchPath(id model.WatchID) string {
	return protocol.PathWatches + "/" + string(id)
}

func filePath(op string) string {
	return protocol.PathFiles + "/" + op
}

func fileQuery(id model.FileID) url.Values {
	return url.Values{"id": {string(id)}}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	res, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Join(ErrClientUnmarshalResponsePacket, err)
	}
	return nil
}

// send performs the request and turns a failure status into an error
// carrying the server's error kind.
func (c *Client) send(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Join(ErrClientMarshalPacket, err)
		}
		rd = bytes.NewReader(bs)
	}

	u := c.base.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, errors.Join(ErrClientRequest, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Join(ErrClientRequest, err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		return nil, ErrClientAuthenticationFailed
	}

	var payload protocol.ErrorPayload
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&payload); err != nil {
		return nil, errors.Join(model.ErrCatchAll, fmt.Errorf("%s %s: %s", method, path, res.Status))
	}
	return nil, errors.Join(model.ParseKind(payload.Kind).Err(), errors.New(payload.Reason))
}
