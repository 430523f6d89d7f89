// Package rest implements a small JSON/REST client used by the proxy
// backend and the metadata service client.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Client is a thin wrapper over http.Client rooted at a base URL.
type Client struct {
	mu      sync.RWMutex
	c       *http.Client
	rootURL string
	headers map[string]string
}

// NewClient creates a Client from an existing http.Client.
func NewClient(c *http.Client) *Client {
	return &Client{
		c:       c,
		headers: map[string]string{},
	}
}

// SetRoot sets the base URL. A trailing "/" is stripped.
func (api *Client) SetRoot(rootURL string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.rootURL = strings.TrimRight(rootURL, "/")
	return api
}

// SetHeader sets a header to be sent with every request.
func (api *Client) SetHeader(key, value string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.headers[key] = value
	return api
}

// Opts describes one call.
type Opts struct {
	Method       string
	Path         string // appended to the root URL, must start with "/"
	Parameters   url.Values
	ExtraHeaders map[string]string
	Body         io.Reader
	ContentType  string
	NoResponse   bool // don't decode a response body
}

// ErrorHandler converts a non-2xx response into an error. The default keeps
// the body's first kilobyte in the message.
type ErrorHandler func(resp *http.Response) error

func defaultErrorHandler(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("HTTP error %d (%s): %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(body)))
}

// Call performs the request described by opts and returns the raw response.
// Responses with non-2xx status are converted to an error via errorHandler
// (or the default) and the body is closed.
func (api *Client) Call(ctx context.Context, opts *Opts) (*http.Response, error) {
	return api.call(ctx, opts, defaultErrorHandler)
}

// CallWithErrorHandler is Call with a custom non-2xx translator.
func (api *Client) CallWithErrorHandler(ctx context.Context, opts *Opts, handler ErrorHandler) (*http.Response, error) {
	return api.call(ctx, opts, handler)
}

func (api *Client) call(ctx context.Context, opts *Opts, handler ErrorHandler) (*http.Response, error) {
	api.mu.RLock()
	rootURL := api.rootURL
	headers := make(map[string]string, len(api.headers))
	for k, v := range api.headers {
		headers[k] = v
	}
	api.mu.RUnlock()

	if opts.Method == "" {
		return nil, fmt.Errorf("call() called with no method")
	}
	callURL := rootURL + opts.Path
	if len(opts.Parameters) > 0 {
		callURL += "?" + opts.Parameters.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, callURL, opts.Body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.ExtraHeaders {
		req.Header.Set(k, v)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}

	resp, err := api.c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return resp, handler(resp)
	}
	return resp, nil
}

// CallJSON performs the call with request marshalled and response
// unmarshalled as JSON. Either may be nil.
func (api *Client) CallJSON(ctx context.Context, opts *Opts, request interface{}, response interface{}) (*http.Response, error) {
	return api.callJSON(ctx, opts, request, response, defaultErrorHandler)
}

// CallJSONWithErrorHandler is CallJSON with a custom non-2xx translator.
func (api *Client) CallJSONWithErrorHandler(ctx context.Context, opts *Opts, request, response interface{}, handler ErrorHandler) (*http.Response, error) {
	return api.callJSON(ctx, opts, request, response, handler)
}

func (api *Client) callJSON(ctx context.Context, opts *Opts, request, response interface{}, handler ErrorHandler) (*http.Response, error) {
	callOpts := *opts
	if request != nil {
		body, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		callOpts.Body = bytes.NewReader(body)
		if callOpts.ContentType == "" {
			callOpts.ContentType = "application/json"
		}
	}
	resp, err := api.call(ctx, &callOpts, handler)
	if err != nil {
		return resp, err
	}
	if response == nil || opts.NoResponse {
		_ = resp.Body.Close()
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return resp, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}
