// Package proxyfs forwards the filesystem protocol to an upstream server
// over HTTP, with a hop budget guarding against mount cycles.
package proxyfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/lib/rest"
)

// DefaultMaxHops bounds how many proxy layers a request may traverse.
const DefaultMaxHops = 8

// DefaultTimeout applies to every upstream call.
const DefaultTimeout = 30 * time.Second

// HopHeader carries the traversal depth between proxy layers.
const HopHeader = "X-FS9-Hop-Count"

// Register with fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "proxyfs",
		Description: "Proxy to an upstream fs9 server",
		NewProvider: NewProvider,
	})
}

// Options is the mount config for proxyfs.
type Options struct {
	// Upstream is the base URL of the upstream server.
	Upstream string `mapstructure:"upstream"`
	// Token is an optional bearer token for the upstream.
	Token string `mapstructure:"token"`
	// HopCount is the depth this server was reached at (from the inbound
	// hop header), zero at the origin.
	HopCount int `mapstructure:"hop_count"`
	// MaxHops overrides the hop budget.
	MaxHops int `mapstructure:"max_hops"`
	// TimeoutSeconds overrides the upstream call timeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Fs forwards every operation to the upstream. Local u64 handles map to the
// upstream's opaque handle strings.
type Fs struct {
	opt        Options
	srv        *rest.Client
	timeout    time.Duration
	mu         sync.RWMutex
	handles    map[fs.Handle]string
	nextHandle atomic.Uint64
}

// NewFs builds a proxy to upstream.
func NewFs(opt Options) (*Fs, error) {
	if opt.Upstream == "" {
		return nil, fs.InvalidArgument("proxyfs needs an upstream URL")
	}
	if opt.MaxHops <= 0 {
		opt.MaxHops = DefaultMaxHops
	}
	timeout := DefaultTimeout
	if opt.TimeoutSeconds > 0 {
		timeout = time.Duration(opt.TimeoutSeconds) * time.Second
	}

	client := &http.Client{Timeout: timeout}
	srv := rest.NewClient(client).SetRoot(strings.TrimRight(opt.Upstream, "/") + "/api/v1")
	srv.SetHeader(HopHeader, strconv.Itoa(opt.HopCount+1))
	if opt.Token != "" {
		srv.SetHeader("Authorization", "Bearer "+opt.Token)
	}

	return &Fs{
		opt:     opt,
		srv:     srv,
		timeout: timeout,
		handles: make(map[fs.Handle]string),
	}, nil
}

// NewProvider instantiates the backend from a mount config.
func NewProvider(ctx context.Context, config map[string]interface{}) (fs.Provider, error) {
	var opt Options
	if err := mapstructure.WeakDecode(config, &opt); err != nil {
		return nil, fs.InvalidArgument(fmt.Sprintf("bad proxyfs config: %v", err))
	}
	return NewFs(opt)
}

// String implements fmt.Stringer for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("proxyfs{%s}", f.opt.Upstream)
}

// checkHopLimit fails before any upstream call once the budget is spent.
func (f *Fs) checkHopLimit() error {
	if f.opt.HopCount >= f.opt.MaxHops {
		return &fs.TooManyHopsError{Depth: f.opt.HopCount, Max: f.opt.MaxHops}
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// errorHandler maps upstream error envelopes back onto the fs taxonomy.
func (f *Fs) errorHandler(resp *http.Response) error {
	var envelope errorResponse
	message := resp.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fs.WrapError(fs.ErrNotFound, message)
	case http.StatusForbidden:
		return fs.WrapError(fs.ErrPermissionDenied, message)
	case http.StatusConflict:
		return fs.WrapError(fs.ErrAlreadyExists, message)
	case http.StatusBadRequest:
		return fs.WrapError(fs.ErrInvalidArgument, message)
	case http.StatusNotImplemented:
		return fs.WrapError(fs.ErrNotImplemented, message)
	case http.StatusServiceUnavailable:
		return fs.BackendUnavailable(f.opt.Upstream)
	case http.StatusGatewayTimeout:
		return &fs.TimeoutError{Duration: f.timeout}
	case http.StatusLoopDetected:
		return &fs.TooManyHopsError{Depth: f.opt.HopCount + 1, Max: f.opt.MaxHops}
	default:
		return &fs.RemoteError{Node: f.opt.Upstream, Message: message}
	}
}

// transportError classifies client-side failures: timeouts, refused
// connections and everything else transient.
func (f *Fs) transportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &fs.TimeoutError{Duration: f.timeout}
		}
		if errors.Is(urlErr.Err, os.ErrDeadlineExceeded) {
			return &fs.TimeoutError{Duration: f.timeout}
		}
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fs.BackendUnavailable(f.opt.Upstream)
	}
	return fs.Transient(err.Error())
}

func (f *Fs) remoteHandle(h fs.Handle) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	remote, ok := f.handles[h]
	if !ok {
		return "", fs.InvalidHandle(h)
	}
	return remote, nil
}

// Stat implements fs.Provider.
func (f *Fs) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	if err := f.checkHopLimit(); err != nil {
		return fs.FileInfo{}, err
	}
	var info fs.FileInfo
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method:     "GET",
		Path:       "/stat",
		Parameters: url.Values{"path": {p}},
	}, nil, &info, f.errorHandler)
	if err != nil {
		return fs.FileInfo{}, f.wrapCallError(err)
	}
	return info, nil
}

// wrapCallError passes through already-classified errors and classifies raw
// transport failures.
func (f *Fs) wrapCallError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return f.transportError(err)
	}
	return err
}

type wstatRequest struct {
	Path    string         `json:"path"`
	Changes fs.StatChanges `json:"changes"`
}

// WStat implements fs.Provider.
func (f *Fs) WStat(ctx context.Context, p string, changes fs.StatChanges) error {
	if err := f.checkHopLimit(); err != nil {
		return err
	}
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method:     "POST",
		Path:       "/wstat",
		NoResponse: true,
	}, &wstatRequest{Path: p, Changes: changes}, nil, f.errorHandler)
	return f.wrapCallError(err)
}

// StatFS implements fs.Provider.
func (f *Fs) StatFS(ctx context.Context, p string) (fs.FsStats, error) {
	if err := f.checkHopLimit(); err != nil {
		return fs.FsStats{}, err
	}
	var stats fs.FsStats
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method:     "GET",
		Path:       "/statfs",
		Parameters: url.Values{"path": {p}},
	}, nil, &stats, f.errorHandler)
	if err != nil {
		return fs.FsStats{}, f.wrapCallError(err)
	}
	return stats, nil
}

type openRequest struct {
	Path  string       `json:"path"`
	Flags fs.OpenFlags `json:"flags"`
}

type openResponse struct {
	HandleID string      `json:"handle_id"`
	Metadata fs.FileInfo `json:"metadata"`
}

// Open implements fs.Provider.
func (f *Fs) Open(ctx context.Context, p string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	if err := f.checkHopLimit(); err != nil {
		return 0, fs.FileInfo{}, err
	}
	var opened openResponse
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method: "POST",
		Path:   "/open",
	}, &openRequest{Path: p, Flags: flags}, &opened, f.errorHandler)
	if err != nil {
		return 0, fs.FileInfo{}, f.wrapCallError(err)
	}

	local := fs.Handle(f.nextHandle.Add(1))
	f.mu.Lock()
	f.handles[local] = opened.HandleID
	f.mu.Unlock()
	return local, opened.Metadata, nil
}

type readRequest struct {
	HandleID string `json:"handle_id"`
	Offset   uint64 `json:"offset"`
	Size     int    `json:"size"`
}

// Read implements fs.Provider. The response body is raw bytes.
func (f *Fs) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	if err := f.checkHopLimit(); err != nil {
		return nil, err
	}
	remote, err := f.remoteHandle(h)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(readRequest{HandleID: remote, Offset: offset, Size: size})
	if err != nil {
		return nil, fs.Internal(err.Error())
	}
	resp, err := f.srv.CallWithErrorHandler(ctx, &rest.Opts{
		Method:      "POST",
		Path:        "/read",
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
	}, f.errorHandler)
	if err != nil {
		return nil, f.wrapCallError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fs.Transient(err.Error())
	}
	return data, nil
}

type writeResponse struct {
	BytesWritten int `json:"bytes_written"`
}

// Write implements fs.Provider. The request body is raw bytes.
func (f *Fs) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	if err := f.checkHopLimit(); err != nil {
		return 0, err
	}
	remote, err := f.remoteHandle(h)
	if err != nil {
		return 0, err
	}
	resp, err := f.srv.CallWithErrorHandler(ctx, &rest.Opts{
		Method: "POST",
		Path:   "/write",
		Parameters: url.Values{
			"handle_id": {remote},
			"offset":    {strconv.FormatUint(offset, 10)},
		},
		Body:        bytes.NewReader(data),
		ContentType: "application/octet-stream",
	}, f.errorHandler)
	if err != nil {
		return 0, f.wrapCallError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var written writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&written); err != nil {
		return 0, fs.Internal(err.Error())
	}
	return written.BytesWritten, nil
}

type closeRequest struct {
	HandleID string `json:"handle_id"`
	Sync     bool   `json:"sync"`
}

// Close implements fs.Provider.
func (f *Fs) Close(ctx context.Context, h fs.Handle, sync bool) error {
	if err := f.checkHopLimit(); err != nil {
		return err
	}
	f.mu.Lock()
	remote, ok := f.handles[h]
	if ok {
		delete(f.handles, h)
	}
	f.mu.Unlock()
	if !ok {
		return fs.InvalidHandle(h)
	}
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method:     "POST",
		Path:       "/close",
		NoResponse: true,
	}, &closeRequest{HandleID: remote, Sync: sync}, nil, f.errorHandler)
	return f.wrapCallError(err)
}

// ReadDir implements fs.Provider.
func (f *Fs) ReadDir(ctx context.Context, p string) ([]fs.FileInfo, error) {
	if err := f.checkHopLimit(); err != nil {
		return nil, err
	}
	var entries []fs.FileInfo
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method:     "GET",
		Path:       "/readdir",
		Parameters: url.Values{"path": {p}},
	}, nil, &entries, f.errorHandler)
	if err != nil {
		return nil, f.wrapCallError(err)
	}
	return entries, nil
}

// Remove implements fs.Provider.
func (f *Fs) Remove(ctx context.Context, p string) error {
	if err := f.checkHopLimit(); err != nil {
		return err
	}
	_, err := f.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method:     "DELETE",
		Path:       "/remove",
		Parameters: url.Values{"path": {p}},
		NoResponse: true,
	}, nil, nil, f.errorHandler)
	return f.wrapCallError(err)
}

// Capabilities implements fs.Provider. The proxy cannot know the upstream
// mix up front, so it advertises everything and lets the upstream gate.
func (f *Fs) Capabilities() fs.Capabilities {
	var all fs.Capabilities
	return ^all
}

// check interface
var _ fs.Provider = (*Fs)(nil)
