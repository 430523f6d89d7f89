package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/echo", r.URL.Path)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client()).SetRoot(srv.URL).SetHeader("X-Test", "yes")

	var response struct {
		Pong bool `json:"pong"`
	}
	request := map[string]string{"ping": "hello"}
	_, err := client.CallJSON(context.Background(), &Opts{
		Method: "POST",
		Path:   "/api/v1/echo",
	}, &request, &response)
	require.NoError(t, err)
	assert.True(t, response.Pong)
}

func TestCallParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x", r.URL.Query().Get("path"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.Client()).SetRoot(srv.URL)
	resp, err := client.Call(context.Background(), &Opts{
		Method:     "GET",
		Path:       "/stat",
		Parameters: url.Values{"path": {"/x"}},
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCallErrorHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	defer srv.Close()

	client := NewClient(srv.Client()).SetRoot(srv.URL)

	_, err := client.Call(context.Background(), &Opts{Method: "GET", Path: "/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
	assert.Contains(t, err.Error(), "nope")

	called := false
	_, err = client.CallWithErrorHandler(context.Background(), &Opts{Method: "GET", Path: "/"},
		func(resp *http.Response) error {
			called = true
			return assert.AnError
		})
	require.Error(t, err)
	assert.True(t, called)
}
