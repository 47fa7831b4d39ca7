package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/intake"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/poll"
	"github.com/zulandar/switchboard/internal/runner"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	api := router.Group("/api")

	api.GET("/health", handleHealth())

	api.GET("/contexts", handleListContexts(opts.DB))
	api.POST("/contexts", handleCreateContext(opts.DB))
	api.GET("/contexts/:id", handleGetContext(opts.DB))
	api.POST("/contexts/:id/send", handleSend(opts))
	api.POST("/contexts/:id/intervene", handleIntervene(opts))
	api.POST("/contexts/:id/close", handleCloseContext(opts.DB))
	api.GET("/contexts/:id/state", handleState(opts))

	api.POST("/pipeline/:session/:kind/start", handlePipelineStart(opts.Runner))
	api.GET("/pipeline/:session/:kind/status", handlePipelineStatus(opts.Runner))

	api.POST("/intake/:session/bridge", handleBridge(opts.DB))
	api.POST("/intake/:session/coas", handleProposeCOA(opts.DB))
	api.GET("/intake/:session/coas", handleListCOAs(opts.DB))
	api.POST("/intake/:session/coas/:coa/select", handleSelectCOA(opts.DB))
	api.POST("/intake/:session/coas/:coa/unselect", handleUnselectCOA(opts.DB))
	api.POST("/intake/:session/coas/:coa/reject", handleRejectCOA(opts.DB))
	api.GET("/intake/:session/readiness", handleReadiness(opts))
}

// fail maps package errors to HTTP status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, intake.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrClosed),
		errors.Is(err, intake.ErrConflict),
		errors.Is(err, runner.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, runner.ErrUnknownKind):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func contextID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid context id"})
		return 0, false
	}
	return uint(id), true
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleListContexts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.Query("owner")
		if owner == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
			return
		}
		includeClosed := c.Query("include_closed") == "true"
		summaries, err := store.List(db, owner, includeClosed)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"contexts": summaries})
	}
}

func handleCreateContext(db *gorm.DB) gin.HandlerFunc {
	type request struct {
		Owner  string `json:"owner" binding:"required"`
		Title  string `json:"title" binding:"required"`
		Tenant string `json:"tenant"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, err := store.Create(db, req.Owner, req.Title, store.CreateOpts{Tenant: req.Tenant})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, ctx)
	}
}

func handleGetContext(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := contextID(c)
		if !ok {
			return
		}
		ctx, err := store.GetWithMessages(db, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ctx)
	}
}

func handleSend(opts StartOpts) gin.HandlerFunc {
	type request struct {
		Role    string `json:"role"`
		Content string `json:"content" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := contextID(c)
		if !ok {
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Only user messages come in through this endpoint. Interventions
		// have their own route; assistant and system roles are written by
		// the engine, never by clients.
		if req.Role != "" && req.Role != models.RoleUser {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("role %q cannot be sent", req.Role)})
			return
		}
		turn, err := opts.Manager.Send(c.Request.Context(), id, models.RoleUser, req.Content)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"turn": turn})
	}
}

func handleIntervene(opts StartOpts) gin.HandlerFunc {
	type request struct {
		Message string `json:"message" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := contextID(c)
		if !ok {
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		turn, err := opts.Manager.Intervene(c.Request.Context(), id, req.Message)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"turn": turn})
	}
}

func handleCloseContext(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := contextID(c)
		if !ok {
			return
		}
		if err := store.Close(db, id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	}
}

func handleState(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := contextID(c)
		if !ok {
			return
		}
		since, err := strconv.ParseInt(c.DefaultQuery("since_version", "0"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since_version"})
			return
		}
		delta, err := poll.State(opts.DB, id, since, c.Query("client_id"), opts.Intervals)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, delta)
	}
}

func handlePipelineStart(r *runner.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The job must outlive this request.
		job, err := r.Start(context.Background(), c.Param("session"), c.Param("kind"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}

func handlePipelineStatus(r *runner.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		job := r.Status(c.Param("session"), c.Param("kind"))
		if job == nil {
			// Unknown jobs answer with an empty phase list, never 404:
			// the client decides whether that means server-side state
			// loss.
			c.JSON(http.StatusOK, gin.H{"phases": []runner.Phase{}})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func handleBridge(db *gorm.DB) gin.HandlerFunc {
	type request struct {
		ContextID uint `json:"context_id" binding:"required"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := intake.Bridge(db, req.ContextID, c.Param("session")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"context_id": req.ContextID,
			"session_id": c.Param("session"),
		})
	}
}

func handleProposeCOA(db *gorm.DB) gin.HandlerFunc {
	type request struct {
		Title string `json:"title" binding:"required"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		coa, err := intake.ProposeCOA(db, c.Param("session"), req.Title)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, coa)
	}
}

func handleListCOAs(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		coas, err := intake.ListCOAs(db, c.Param("session"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"coas": coas})
	}
}

func coaID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("coa"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coa id"})
		return 0, false
	}
	return uint(id), true
}

func handleSelectCOA(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := coaID(c)
		if !ok {
			return
		}
		if err := intake.SelectCOA(db, id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "selected"})
	}
}

func handleUnselectCOA(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := coaID(c)
		if !ok {
			return
		}
		if err := intake.UnselectCOA(db, id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "unselected"})
	}
}

func handleRejectCOA(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := coaID(c)
		if !ok {
			return
		}
		if err := intake.RejectCOA(db, id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	}
}

func handleReadiness(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("session")

		var snap *models.ReadinessSnapshot
		var err error
		if opts.Scorer != nil {
			snap, err = intake.Readiness(c.Request.Context(), opts.DB, opts.Scorer, session)
		} else {
			snap, err = intake.LatestReadiness(opts.DB, session)
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"snapshot":   snap,
			"plan_ready": intake.PlanReady(snap),
		})
	}
}
