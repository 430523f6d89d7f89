// Package server exposes the namespaced VFS over the JSON/HTTP protocol:
// authentication, rate limiting, namespace resolution and streaming I/O.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/vfs"
)

// Streaming thresholds.
const (
	// SingleBodyLimit is the largest read answered with one fixed body.
	SingleBodyLimit = 1 << 20
	// StreamChunkSize is the read granularity for chunked responses and
	// the write granularity for streamed uploads.
	StreamChunkSize = 256 * 1024
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address for ListenAndServe.
	Addr string
	// JWTSecret enables local HMAC validation when no meta client is set.
	JWTSecret string
	// DisableAuth serves everything under the default namespace. For
	// development and tests only.
	DisableAuth bool
	// HandleTTL overrides the idle handle lifetime.
	HandleTTL time.Duration
	// TokenCacheSize and TokenCacheTTL bound the token cache.
	TokenCacheSize int
	TokenCacheTTL  time.Duration
	// NamespaceRate and UserRate are requests per second budgets; zero
	// means default, negative disables limiting.
	NamespaceRate int
	UserRate      int
	// BreakerThreshold and BreakerTimeout tune the meta circuit breaker.
	BreakerThreshold int
	BreakerTimeout   time.Duration
	// DefaultProvision auto-provisions unknown namespaces.
	DefaultProvision *ProvisionConfig
}

// Server ties the middleware pipeline to per-namespace routers.
type Server struct {
	opt        Options
	meta       MetaClient
	namespaces *NamespaceManager
	tokens     *TokenCache
	revoked    *RevocationSet
	limiter    *RateLimiter
	breaker    *CircuitBreaker
	audit      *AuditLog
	handler    http.Handler
	sweepStop  chan struct{}
}

// New builds a Server. meta may be nil for standalone (local JWT) mode.
func New(opt Options, meta MetaClient) *Server {
	if opt.HandleTTL <= 0 {
		opt.HandleTTL = vfs.DefaultHandleTTL
	}
	limiter := NewDisabledRateLimiter()
	if opt.NamespaceRate >= 0 && opt.UserRate >= 0 {
		nsRate := opt.NamespaceRate
		if nsRate == 0 {
			nsRate = DefaultNamespaceRate
		}
		userRate := opt.UserRate
		if userRate == 0 {
			userRate = DefaultUserRate
		}
		limiter = NewRateLimiter(nsRate, userRate)
	}

	s := &Server{
		opt:        opt,
		meta:       meta,
		namespaces: NewNamespaceManager(opt.HandleTTL),
		tokens:     NewTokenCache(opt.TokenCacheSize, opt.TokenCacheTTL),
		revoked:    NewRevocationSet(0),
		limiter:    limiter,
		breaker:    NewCircuitBreaker("fs9-meta", opt.BreakerThreshold, opt.BreakerTimeout),
		audit:      NewAuditLog(0),
		sweepStop:  make(chan struct{}),
	}
	s.handler = s.routes()
	return s
}

// Namespaces exposes the manager, e.g. for pre-seeding mounts at startup.
func (s *Server) Namespaces() *NamespaceManager { return s.namespaces }

// RevokeToken adds a token to the revocation set and drops it from the
// cache.
func (s *Server) RevokeToken(token string) {
	s.revoked.Revoke(token)
	s.tokens.Remove(token)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authMiddleware)
	r.Use(metricsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method("GET", "/metrics", metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stat", s.handleStat)
		r.Post("/wstat", s.handleWstat)
		r.Get("/statfs", s.handleStatFS)
		r.Post("/open", s.handleOpen)
		r.Post("/read", s.handleRead)
		r.Post("/write", s.handleWrite)
		r.Post("/close", s.handleClose)
		r.Get("/readdir", s.handleReadDir)
		r.Delete("/remove", s.handleRemove)
		r.Get("/capabilities", s.handleCapabilities)
		r.Get("/mounts", s.handleMounts)
		r.Post("/mount", s.handleMount)
		r.Post("/unmount", s.handleUnmount)
		r.Get("/handles", s.handleHandles)
		r.Get("/audit", s.handleAudit)
		r.Post("/tokens/revoke", s.handleRevoke)
	})
	return r
}

// ListenAndServe runs the server until ctx ends, sweeping stale handles in
// the background.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.opt.Addr, Handler: s.handler}
	go s.sweepLoop()
	defer close(s.sweepStop)

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	fs.Infof(nil, "listening on %s", s.opt.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errs:
		return err
	}
}

// sweepLoop reclaims idle handles in every namespace.
func (s *Server) sweepLoop() {
	interval := s.opt.HandleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			for _, ns := range s.namespaces.all() {
				reclaimed := ns.Handles.CleanupStale(ctx)
				for _, id := range reclaimed {
					ns.Map.RemoveID(id)
				}
				if len(reclaimed) > 0 {
					fs.Infof(ns, "reclaimed %d stale handles", len(reclaimed))
				}
				openHandles.WithLabelValues(ns.Name).Set(float64(ns.Handles.Count()))
			}
			cancel()
		}
	}
}

// namespaceFor resolves the request's namespace or writes the error.
func (s *Server) namespaceFor(w http.ResponseWriter, r *http.Request) (*vfs.Namespace, *RequestContext, bool) {
	rc, ok := contextFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing request context")
		return nil, nil, false
	}
	ns, err := s.resolveNS(r.Context(), rc)
	if err != nil {
		writeFsError(w, err)
		return nil, nil, false
	}
	return ns, rc, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	info, err := ns.Router.Stat(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeFsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleWstat(w http.ResponseWriter, r *http.Request) {
	ns, rc, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	var req WstatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	if err := ns.Router.WStat(r.Context(), req.Path, req.Changes); err != nil {
		writeFsError(w, err)
		return
	}
	switch {
	case req.Changes.Name != nil:
		s.audit.Record(EventRename, rc.Namespace, rc.UserID, req.Path, *req.Changes.Name)
	case req.Changes.Size != nil:
		s.audit.Record(EventTruncate, rc.Namespace, rc.UserID, req.Path, strconv.FormatUint(*req.Changes.Size, 10))
	case req.Changes.Mode != nil:
		s.audit.Record(EventChmod, rc.Namespace, rc.UserID, req.Path, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatFS(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	stats, err := ns.Router.StatFS(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeFsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	ns, rc, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	handle, info, err := ns.Router.Open(r.Context(), req.Path, req.Flags)
	if err != nil {
		writeFsError(w, err)
		return
	}
	handleID := ns.Map.Insert(uint64(handle))
	if req.Flags.Create {
		if req.Flags.Directory {
			s.audit.Record(EventMkdir, rc.Namespace, rc.UserID, req.Path, "")
		} else {
			s.audit.Record(EventCreate, rc.Namespace, rc.UserID, req.Path, "")
		}
	}
	writeJSON(w, http.StatusOK, OpenResponse{HandleID: handleID, Metadata: info})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	var req ReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	id, ok := ns.Map.Lookup(req.HandleID)
	if !ok {
		writeFsError(w, fs.InvalidArgument("invalid handle_id"))
		return
	}
	handle := fs.Handle(id)

	if req.Size <= SingleBodyLimit {
		data, err := ns.Router.Read(r.Context(), handle, req.Offset, req.Size)
		if err != nil {
			writeFsError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
		return
	}

	// large reads stream in chunks until end offset or EOF; a failure on
	// the first chunk still gets a proper error status, later failures
	// truncate the body, which clients must treat as an error
	offset := req.Offset
	end := req.Offset + uint64(req.Size)
	first, err := ns.Router.Read(r.Context(), handle, offset, StreamChunkSize)
	if err != nil {
		writeFsError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	flusher, _ := w.(http.Flusher)
	data := first
	for {
		if len(data) == 0 {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		offset += uint64(len(data))
		if offset >= end {
			return
		}
		chunk := StreamChunkSize
		if remaining := end - offset; remaining < uint64(chunk) {
			chunk = int(remaining)
		}
		data, err = ns.Router.Read(r.Context(), handle, offset, chunk)
		if err != nil {
			fs.Debugf(ns, "streaming read aborted at offset %d: %v", offset, err)
			return
		}
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	ns, rc, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	id, ok := ns.Map.Lookup(query.Get("handle_id"))
	if !ok {
		writeFsError(w, fs.InvalidArgument("invalid handle_id"))
		return
	}
	handle := fs.Handle(id)
	offset, err := strconv.ParseUint(query.Get("offset"), 10, 64)
	if err != nil {
		writeFsError(w, fs.InvalidArgument("bad offset"))
		return
	}

	// consume the body as a stream, writing each chunk at the running
	// offset
	var path string
	if state, ok := ns.Handles.Get(id); ok {
		path = state.Path
	}
	buf := make([]byte, StreamChunkSize)
	total := 0
	for {
		n, readErr := io.ReadFull(r.Body, buf)
		if n > 0 {
			written, err := ns.Router.Write(r.Context(), handle, offset, buf[:n])
			if err != nil {
				writeFsError(w, err)
				return
			}
			offset += uint64(written)
			total += written
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			writeFsError(w, fs.Transient(readErr.Error()))
			return
		}
	}
	s.audit.Record(EventWrite, rc.Namespace, rc.UserID, path, strconv.Itoa(total))
	writeJSON(w, http.StatusOK, WriteResponse{BytesWritten: total})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	var req CloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	id, ok := ns.Map.Remove(req.HandleID)
	if !ok {
		writeFsError(w, fs.InvalidArgument("invalid handle_id"))
		return
	}
	if err := ns.Router.Close(r.Context(), fs.Handle(id), req.Sync); err != nil {
		writeFsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadDir(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	entries, err := ns.Router.ReadDir(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeFsError(w, err)
		return
	}
	if entries == nil {
		entries = []fs.FileInfo{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	ns, rc, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if err := ns.Router.Remove(r.Context(), path); err != nil {
		writeFsError(w, err)
		return
	}
	s.audit.Record(EventDelete, rc.Namespace, rc.UserID, path, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	var caps fs.Capabilities
	if path == "" {
		caps = ns.Router.Capabilities()
	} else {
		provider, _, err := ns.Mounts.Resolve(path)
		if err != nil {
			writeFsError(w, err)
			return
		}
		caps = provider.Capabilities()
	}
	names := []string{}
	if caps != 0 {
		names = strings.Split(caps.String(), "|")
	}
	writeJSON(w, http.StatusOK, CapabilitiesResponse{Path: path, Capabilities: names, Raw: uint64(caps)})
}

func (s *Server) handleMounts(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MountsResponse{Mounts: ns.Mounts.ListMounts()})
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	ns, rc, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	var req MountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	config := make(map[string]interface{}, len(req.Config)+1)
	for k, v := range req.Config {
		config[k] = v
	}
	config["ns"] = rc.Namespace

	provider, err := fs.NewProvider(r.Context(), req.Provider, config)
	if err != nil {
		writeFsError(w, err)
		return
	}
	if err := ns.Mounts.Mount(req.Path, req.Provider, provider); err != nil {
		writeFsError(w, err)
		return
	}
	fs.Infof(ns, "mounted %s at %s", req.Provider, req.Path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	var req UnmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	if _, err := ns.Mounts.Unmount(req.Path); err != nil {
		writeFsError(w, err)
		return
	}
	fs.Infof(ns, "unmounted %s", req.Path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHandles(w http.ResponseWriter, r *http.Request) {
	ns, _, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ns.Handles.ListHandles())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	_, rc, ok := s.namespaceFor(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.audit.Recent(rc.Namespace, limit))
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	rc, ok := contextFrom(r)
	if !ok || !rc.HasRole("admin") {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	var req RevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFsError(w, err)
		return
	}
	s.RevokeToken(req.Token)
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON decodes a request body, classifying malformed input.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fs.InvalidArgument("empty request body")
		}
		return fs.InvalidArgument("malformed request body: " + err.Error())
	}
	return nil
}
