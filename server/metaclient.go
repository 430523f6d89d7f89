package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/lib/rest"
)

// MetaAdminHeader authenticates admin calls to the metadata service.
const MetaAdminHeader = "x-fs9-meta-key"

// metaTimeout bounds every metadata service call.
const metaTimeout = 10 * time.Second

// TokenValidation is the metadata service's verdict on a token.
type TokenValidation struct {
	Valid     bool     `json:"valid"`
	UserID    string   `json:"user_id"`
	Namespace string   `json:"namespace"`
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"expires_at"`
	Error     string   `json:"error,omitempty"`
}

// NamespaceInfo is a namespace record owned by the metadata service.
type NamespaceInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// MountInfo is a mount record owned by the metadata service.
type MountInfo struct {
	Path     string                 `json:"path"`
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// MetaClient is the slice of the metadata service the core consumes.
type MetaClient interface {
	ValidateToken(ctx context.Context, token string) (*TokenValidation, error)
	GetNamespace(ctx context.Context, name string) (*NamespaceInfo, error)
	GetNamespaceMounts(ctx context.Context, name string) ([]MountInfo, error)
	CreateNamespace(ctx context.Context, name string) (*NamespaceInfo, error)
	CreateMount(ctx context.Context, ns, path, provider string, config map[string]interface{}) (*MountInfo, error)
}

// HTTPMetaClient talks to a real fs9-meta service.
type HTTPMetaClient struct {
	srv     *rest.Client
	baseURL string
}

// NewHTTPMetaClient makes a client for the metadata service at baseURL,
// authenticating admin calls with adminKey when set.
func NewHTTPMetaClient(baseURL, adminKey string) *HTTPMetaClient {
	client := &http.Client{Timeout: metaTimeout}
	srv := rest.NewClient(client).SetRoot(strings.TrimRight(baseURL, "/"))
	if adminKey != "" {
		srv.SetHeader(MetaAdminHeader, adminKey)
	}
	return &HTTPMetaClient{srv: srv, baseURL: baseURL}
}

// String implements fmt.Stringer for logging.
func (c *HTTPMetaClient) String() string {
	return fmt.Sprintf("meta{%s}", c.baseURL)
}

func metaError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	message := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusNotFound {
		return fs.WrapError(fs.ErrNotFound, fmt.Sprintf("meta: %s", message))
	}
	return fs.WrapError(fs.ErrBackendUnavailable,
		fmt.Sprintf("meta returned HTTP %d: %s", resp.StatusCode, message))
}

// ValidateToken implements MetaClient.
func (c *HTTPMetaClient) ValidateToken(ctx context.Context, token string) (*TokenValidation, error) {
	request := map[string]string{"token": token}
	var validation TokenValidation
	_, err := c.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method: "POST",
		Path:   "/api/v1/tokens/validate",
	}, &request, &validation, metaError)
	if err != nil {
		return nil, err
	}
	return &validation, nil
}

// GetNamespace implements MetaClient.
func (c *HTTPMetaClient) GetNamespace(ctx context.Context, name string) (*NamespaceInfo, error) {
	var info NamespaceInfo
	_, err := c.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method: "GET",
		Path:   "/api/v1/admin/namespaces/" + name,
	}, nil, &info, metaError)
	if err != nil {
		return nil, err
	}
	if info.Status == "" {
		// older meta versions return no status; treat as active
		info.Status = "active"
	}
	return &info, nil
}

// GetNamespaceMounts implements MetaClient.
func (c *HTTPMetaClient) GetNamespaceMounts(ctx context.Context, name string) ([]MountInfo, error) {
	var mounts []MountInfo
	_, err := c.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method: "GET",
		Path:   "/api/v1/namespaces/" + name + "/mounts",
	}, nil, &mounts, metaError)
	if err != nil {
		return nil, err
	}
	return mounts, nil
}

// CreateNamespace implements MetaClient.
func (c *HTTPMetaClient) CreateNamespace(ctx context.Context, name string) (*NamespaceInfo, error) {
	request := map[string]string{"name": name}
	var info NamespaceInfo
	_, err := c.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method: "POST",
		Path:   "/api/v1/admin/namespaces",
	}, &request, &info, metaError)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateMount implements MetaClient.
func (c *HTTPMetaClient) CreateMount(ctx context.Context, ns, path, provider string, config map[string]interface{}) (*MountInfo, error) {
	request := map[string]interface{}{
		"path":     path,
		"provider": provider,
		"config":   config,
	}
	var info MountInfo
	_, err := c.srv.CallJSONWithErrorHandler(ctx, &rest.Opts{
		Method: "POST",
		Path:   "/api/v1/namespaces/" + ns + "/mounts",
	}, &request, &info, metaError)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// validateThroughBreaker runs ValidateToken behind the breaker, recording
// the outcome.
func validateThroughBreaker(ctx context.Context, meta MetaClient, breaker *CircuitBreaker, token string) (*TokenValidation, error) {
	if !breaker.Allow() {
		return nil, &fs.CircuitOpenError{Service: breaker.Service()}
	}
	validation, err := meta.ValidateToken(ctx, token)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	return validation, nil
}
