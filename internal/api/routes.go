package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/psi-analytics-engine/internal/db"
	"github.com/rawblock/psi-analytics-engine/pkg/models"
)

// APIHandler wires the run ledger, the run manager, and the websocket
// hub into the gin route handlers.
type APIHandler struct {
	dbStore *db.PostgresStore
	wsHub   *Hub
	runs    *RunManager
}

func SetupRouter(dbStore *db.PostgresStore, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore: dbStore,
		wsHub:   wsHub,
		runs:    NewRunManager(dbStore, wsHub),
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/ws", wsHub.Subscribe)
		pub.GET("/runs", handler.handleListRuns)
		pub.GET("/runs/:id", handler.handleGetRun)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// A run drives real network I/O and, for the local-demo path, the
	// circuit stage too — both costly enough to rate-limit per IP.
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/runs", handler.handleStartRun)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStartRun launches a PSI-Analytics run asynchronously.
// POST /api/v1/runs
func (h *APIHandler) handleStartRun(c *gin.Context) {
	var req models.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	runID, err := h.runs.Start(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to start run", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, models.StartRunResponse{RunID: runID})
}

// handleGetRun returns the current phase/result/error for a run.
// GET /api/v1/runs/:id
func (h *APIHandler) handleGetRun(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}

	run, err := h.dbStore.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleListRuns returns a paginated, most-recent-first run history.
// GET /api/v1/runs?page=1&limit=50
func (h *APIHandler) handleListRuns(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, totalCount, err := h.dbStore.ListRuns(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run history", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.RunPage{
		Runs:       runs,
		TotalCount: totalCount,
		Page:       page,
		Limit:      limit,
	})
}
