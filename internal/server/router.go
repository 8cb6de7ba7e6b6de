package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botforge/internal/executor"
	"github.com/loykin/botforge/internal/generator"
	"github.com/loykin/botforge/internal/orchestrator"
	"github.com/loykin/botforge/internal/session"
	"github.com/loykin/botforge/internal/store"
)

// Router provides embeddable HTTP handlers for the bot generation flow.
// Endpoints:
//
//	POST {basePath}/generate/begin     body: {user_id}
//	POST {basePath}/generate/describe  body: {user_id, description}
//	POST {basePath}/generate/launch    body: {user_id, bot_id, token}
//	POST {basePath}/generate/save      body: {user_id, bot_id}
//	POST {basePath}/generate/cancel    body: {user_id}
//	POST {basePath}/bots/stop          query: name=... OR bot_id=..., force=1 optional
//	POST {basePath}/bots/edit          body: {user_id, bot_id, instruction}
//	GET  {basePath}/bots               query: user_id=...
//	GET  {basePath}/bots/code          query: user_id=...&bot_id=...
//	GET  {basePath}/bots/status
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	orch     *orchestrator.Orchestrator
	basePath string
}

func NewRouter(orch *orchestrator.Orchestrator, basePath string) *Router {
	return &Router{orch: orch, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/generate/begin", r.handleBegin)
	group.POST("/generate/describe", r.handleDescribe)
	group.POST("/generate/launch", r.handleLaunch)
	group.POST("/generate/save", r.handleSave)
	group.POST("/generate/cancel", r.handleCancel)
	group.POST("/bots/stop", r.handleStop)
	group.POST("/bots/edit", r.handleEdit)
	group.GET("/bots", r.handleList)
	group.GET("/bots/code", r.handleCode)
	group.GET("/bots/status", r.handleStatus)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, orch *orchestrator.Orchestrator) *http.Server {
	r := NewRouter(orch, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type userReq struct {
	UserID string `json:"user_id"`
}

func (r *Router) handleBegin(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id required"})
		return
	}
	s := r.orch.BeginGeneration(req.UserID)
	writeJSON(c, http.StatusOK, gin.H{"bot_id": s.BotID, "state": s.State})
}

func (r *Router) handleDescribe(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id required"})
		return
	}
	s, err := r.orch.SubmitDescription(c.Request.Context(), req.UserID, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bot_id": s.BotID, "name": s.Name, "state": s.State})
}

func (r *Router) handleLaunch(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		BotID  string `json:"bot_id"`
		Token  string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.BotID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id and bot_id required"})
		return
	}
	snap, err := r.orch.ChooseLaunch(c.Request.Context(), req.UserID, req.BotID, req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleSave(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		BotID  string `json:"bot_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.BotID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id and bot_id required"})
		return
	}
	s, err := r.orch.ChooseSave(req.UserID, req.BotID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bot_id": s.BotID, "name": s.Name})
}

func (r *Router) handleCancel(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id required"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: r.orch.Cancel(req.UserID)})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	botID := c.Query("bot_id")
	force := c.Query("force") == "1" || c.Query("force") == "true"
	if (name == "") == (botID == "") {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "exactly one of name, bot_id query param required"})
		return
	}
	var ok bool
	if name != "" {
		ok = r.orch.StopByName(name, force)
	} else {
		ok = r.orch.StopBot(botID, force)
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no running bot matched"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEdit(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id"`
		BotID       string `json:"bot_id"`
		Instruction string `json:"instruction"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.BotID == "" || req.Instruction == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id, bot_id and instruction required"})
		return
	}
	rec, err := r.orch.EditBot(c.Request.Context(), req.UserID, req.BotID, req.Instruction)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bot_id": rec.BotID, "name": rec.Name})
}

func (r *Router) handleList(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id query param required"})
		return
	}
	recs := r.orch.ListForUser(c.Request.Context(), userID)
	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recView(rec))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCode(c *gin.Context) {
	userID := c.Query("user_id")
	botID := c.Query("bot_id")
	if userID == "" || botID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "user_id and bot_id query params required"})
		return
	}
	code, err := r.orch.BotCode(c.Request.Context(), userID, botID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/x-python; charset=utf-8", []byte(code))
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.orch.StatusAll())
}

func recView(rec store.Record) gin.H {
	h := gin.H{
		"bot_id":     rec.BotID,
		"name":       rec.Name,
		"status":     rec.Status,
		"created_at": rec.CreatedAt,
	}
	if rec.PID > 0 {
		h["pid"] = rec.PID
	}
	if rec.ErrorMessage.Valid {
		h["error_message"] = rec.ErrorMessage.String
	}
	return h
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var be *generator.BackendError
	var se *executor.SpawnError
	switch {
	case errors.Is(err, orchestrator.ErrDescriptionTooShort),
		errors.Is(err, orchestrator.ErrInvalidToken):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, session.ErrNoSession):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, session.ErrStaleSession):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, executor.ErrCapacityExceeded):
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: err.Error()})
	case errors.Is(err, executor.ErrNotFound),
		errors.Is(err, executor.ErrCodeNotFound),
		errors.Is(err, store.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, generator.ErrCodeTooLarge):
		writeJSON(c, http.StatusUnprocessableEntity, errorResp{Error: err.Error()})
	case errors.As(err, &be):
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	case errors.As(err, &se):
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}
