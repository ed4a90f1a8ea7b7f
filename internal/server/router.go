package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/sessionkeeper/internal/manager"
	"github.com/loykin/sessionkeeper/internal/store"
)

// Router provides embeddable HTTP handlers for the session orchestrator.
// Endpoints (relative to basePath):
//
//	GET    /status
//	GET    /sessions                     running sessions
//	POST   /sessions                     body: createRequest
//	POST   /sessions/:id/close           query: reason=manual|background|shutdown
//	POST   /sessions/:id/navigate        body: {"url": ...}
//	POST   /sessions/:id/refresh
//	GET    /sessions/:id/content
//	GET    /sessions/:id/cookies
//	GET    /sessions/:id/screenshot      image/png
//	GET    /instances                    query: closed=true&limit=N for the rotation view
//	GET    /instances/groups
//	GET    /instances/:id
//	PUT    /instances/:id                body: updateRequest
//	DELETE /instances/:id
//	POST   /instances/:id/restart
//	GET    /instances/:id/sessions       query: limit=N
//	GET    /statistics
//	GET    /rotation
//	GET    /ws                           websocket event stream
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  http.Handler
}

type Option func(*Router)

// WithMetrics mounts h at {basePath}/metrics.
func WithMetrics(h http.Handler) Option {
	return func(r *Router) { r.metrics = h }
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string, opts ...Option) *Router {
	r := &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)

	sessions := group.Group("/sessions")
	sessions.GET("", r.handleListRunning)
	sessions.POST("", r.handleCreate)
	sessions.POST("/:id/close", r.handleClose)
	sessions.POST("/:id/navigate", r.handleNavigate)
	sessions.POST("/:id/refresh", r.handleRefresh)
	sessions.GET("/:id/content", r.handleContent)
	sessions.GET("/:id/cookies", r.handleCookies)
	sessions.GET("/:id/screenshot", r.handleScreenshot)

	instances := group.Group("/instances")
	instances.GET("", r.handleListInstances)
	instances.GET("/groups", r.handleGroups)
	instances.GET("/:id", r.handleGetInstance)
	instances.PUT("/:id", r.handleUpdateInstance)
	instances.DELETE("/:id", r.handleDeleteInstance)
	instances.POST("/:id/restart", r.handleRestart)
	instances.GET("/:id/sessions", r.handleSessions)

	group.GET("/statistics", r.handleStatistics)
	group.GET("/rotation", r.handleRotation)
	group.GET("/ws", r.handleWS)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer starts a standalone server on addr using this router. When
// tlsConf is non-nil the listener serves HTTPS. Stop it with Shutdown or
// Close.
func NewServer(addr string, tlsConf *tls.Config, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// screenshots of long pages can take a while to render
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		var err error
		if tlsConf != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	InstanceID int64  `json:"instance_id,omitempty"`
	Data       any    `json:"data,omitempty"`
}

type createRequest struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	GroupName   string `json:"groupName"`
	Tags        string `json:"tags"`
	Priority    int    `json:"priority"`
}

type navigateRequest struct {
	URL string `json:"url"`
}

type updateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	GroupName   *string `json:"groupName"`
	Tags        *string `json:"tags"`
	Priority    *int    `json:"priority"`
}

// statusFor maps orchestrator errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mng.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, mng.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mng.ErrAlreadyExists), errors.Is(err, mng.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, mng.ErrLaunchFailed), errors.Is(err, mng.ErrEngineCallFailed):
		return http.StatusBadGateway
	case errors.Is(err, mng.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Warn("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

// pathID parses :id and writes a 400 on failure.
func pathID(c *gin.Context) (int64, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return 0, false
	}
	return id, true
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: r.mgr.Status()})
}

func (r *Router) handleListRunning(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: r.mgr.ListRunning()})
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, err := r.mgr.Create(c.Request.Context(), req.URL, store.Metadata{
		Name:        req.Name,
		Description: req.Description,
		GroupName:   req.GroupName,
		Tags:        req.Tags,
		Priority:    req.Priority,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, okResp{OK: true, Message: "session started", InstanceID: id})
}

func (r *Router) handleClose(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	closed, err := r.mgr.Close(c.Request.Context(), id, c.Query("reason"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if !closed {
		writeJSON(c, http.StatusOK, okResp{OK: true, Message: "session not running", InstanceID: id})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Message: "session closed", InstanceID: id})
}

func (r *Router) handleNavigate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.mgr.Navigate(c.Request.Context(), id, req.URL); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Message: "navigated", InstanceID: id})
}

func (r *Router) handleRefresh(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := r.mgr.Refresh(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Message: "refreshed", InstanceID: id})
}

func (r *Router) handleContent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	content, err := r.mgr.Content(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, InstanceID: id, Data: content})
}

func (r *Router) handleCookies(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	cookies, err := r.mgr.Cookies(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, InstanceID: id, Data: cookies})
}

func (r *Router) handleScreenshot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	png, err := r.mgr.Screenshot(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (r *Router) handleListInstances(c *gin.Context) {
	if closed, _ := strconv.ParseBool(c.Query("closed")); closed {
		r.handleListClosed(c)
		return
	}
	list, err := r.mgr.ListInstances(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: list})
}

func (r *Router) handleListClosed(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	view, err := r.mgr.ListClosed(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: view})
}

func (r *Router) handleGroups(c *gin.Context) {
	groups, err := r.mgr.Groups(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: groups})
}

func (r *Router) handleGetInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inst, err := r.mgr.GetInstance(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, InstanceID: id, Data: inst})
}

func (r *Router) handleUpdateInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	patch := store.InstancePatch{
		Name:        req.Name,
		Description: req.Description,
		GroupName:   req.GroupName,
		Tags:        req.Tags,
		Priority:    req.Priority,
	}
	if err := r.mgr.UpdateInstance(c.Request.Context(), id, patch); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Message: "instance updated", InstanceID: id})
}

func (r *Router) handleDeleteInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := r.mgr.DeleteInstance(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Message: "instance deleted", InstanceID: id})
}

func (r *Router) handleRestart(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := r.mgr.Restart(c.Request.Context(), id)
	switch {
	case errors.Is(err, mng.ErrAlreadyRunning):
		writeJSON(c, http.StatusOK, okResp{OK: true, Message: "instance already running", InstanceID: id})
	case err != nil:
		writeErr(c, err)
	default:
		writeJSON(c, http.StatusOK, okResp{OK: true, Message: "session restarted", InstanceID: id})
	}
}

func (r *Router) handleSessions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	recs, err := r.mgr.Sessions(c.Request.Context(), id, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, InstanceID: id, Data: recs})
}

func (r *Router) handleStatistics(c *gin.Context) {
	st, err := r.mgr.Statistics(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: st})
}

func (r *Router) handleRotation(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true, Data: r.mgr.RotationStats()})
}
