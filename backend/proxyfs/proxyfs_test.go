package proxyfs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9fs/fs9/fs"
)

var ctx = context.Background()

// fakeUpstream is a minimal upstream speaking just enough of the protocol.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	files := map[string][]byte{"/hello.txt": []byte("hello from upstream")}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/stat", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(HopHeader))
		p := r.URL.Query().Get("path")
		data, ok := files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "not found: " + p, "code": 404})
			return
		}
		_ = json.NewEncoder(w).Encode(fs.FileInfo{Path: p, Size: uint64(len(data))})
	})
	mux.HandleFunc("/api/v1/open", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := files[req.Path]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"handle_id": "upstream-7",
			"metadata":  fs.FileInfo{Path: req.Path, Size: uint64(len(data))},
		})
	})
	mux.HandleFunc("/api/v1/read", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			HandleID string `json:"handle_id"`
			Offset   uint64 `json:"offset"`
			Size     int    `json:"size"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "upstream-7", req.HandleID)
		data := files["/hello.txt"]
		end := req.Offset + uint64(req.Size)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		if req.Offset >= uint64(len(data)) {
			return
		}
		_, _ = w.Write(data[req.Offset:end])
	})
	mux.HandleFunc("/api/v1/write", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "upstream-7", r.URL.Query().Get("handle_id"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		assert.Equal(t, 3, offset)
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]int{"bytes_written": len(body)})
	})
	mux.HandleFunc("/api/v1/close", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func newProxy(t *testing.T, srv *httptest.Server, hops int) *Fs {
	t.Helper()
	f, err := NewFs(Options{Upstream: srv.URL, HopCount: hops})
	require.NoError(t, err)
	return f
}

func TestStatForwarded(t *testing.T) {
	srv := fakeUpstream(t)
	defer srv.Close()
	f := newProxy(t, srv, 0)

	info, err := f.Stat(ctx, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(19), info.Size)

	_, err = f.Stat(ctx, "/missing")
	assert.True(t, fs.IsNotFound(err))
}

func TestOpenReadWriteClose(t *testing.T) {
	srv := fakeUpstream(t)
	defer srv.Close()
	f := newProxy(t, srv, 0)

	h, info, err := f.Open(ctx, "/hello.txt", fs.FlagsReadWrite)
	require.NoError(t, err)
	assert.Equal(t, uint64(19), info.Size)

	data, err := f.Read(ctx, h, 6, 4)
	require.NoError(t, err)
	assert.Equal(t, "from", string(data))

	n, err := f.Write(ctx, h, 3, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, f.Close(ctx, h, false))

	// the local handle is gone after close
	_, err = f.Read(ctx, h, 0, 1)
	assert.ErrorIs(t, err, fs.ErrInvalidHandle)
}

func TestHopLimitFailsBeforeAnyCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	f, err := NewFs(Options{Upstream: srv.URL, HopCount: 10, MaxHops: 8})
	require.NoError(t, err)

	_, err = f.Stat(ctx, "/x")
	var hops *fs.TooManyHopsError
	require.ErrorAs(t, err, &hops)
	assert.Equal(t, 10, hops.Depth)
	assert.Equal(t, 8, hops.Max)
	assert.Equal(t, 508, fs.HTTPStatus(err))
	assert.Zero(t, calls, "hop limit must trip before the upstream call")
}

func TestHopHeaderIncremented(t *testing.T) {
	var gotHop string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHop = r.Header.Get(HopHeader)
		_ = json.NewEncoder(w).Encode(fs.FileInfo{Path: "/x"})
	}))
	defer srv.Close()

	f := newProxy(t, srv, 3)
	_, err := f.Stat(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "4", gotHop)
}

func TestErrorMapping(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "mapped", "code": status})
	}))
	defer srv.Close()
	f := newProxy(t, srv, 0)

	for _, test := range []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, fs.IsNotFound},
		{http.StatusForbidden, fs.IsPermissionDenied},
		{http.StatusConflict, func(err error) bool { return fs.HTTPStatus(err) == 409 }},
		{http.StatusBadRequest, func(err error) bool { return fs.HTTPStatus(err) == 400 }},
		{http.StatusNotImplemented, func(err error) bool { return fs.HTTPStatus(err) == 501 }},
		{http.StatusServiceUnavailable, fs.IsRetryable},
		{http.StatusGatewayTimeout, fs.IsRetryable},
		{http.StatusLoopDetected, func(err error) bool { return fs.HTTPStatus(err) == 508 }},
		{http.StatusBadGateway, func(err error) bool { return fs.HTTPStatus(err) == 500 }},
	} {
		status = test.status
		_, err := f.Stat(ctx, "/x")
		require.Error(t, err, "status %d", test.status)
		assert.True(t, test.check(err), "status %d mapped to %v", test.status, err)
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from now on
	f := newProxy(t, srv, 0)

	_, err := f.Stat(ctx, "/x")
	require.Error(t, err)
	assert.True(t, fs.IsRetryable(err))
}

func TestBearerTokenSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(fs.FileInfo{Path: "/x"})
	}))
	defer srv.Close()

	f, err := NewFs(Options{Upstream: srv.URL, Token: "secret-token"})
	require.NoError(t, err)
	_, err = f.Stat(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}
