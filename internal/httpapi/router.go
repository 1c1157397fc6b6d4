package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contentmine/engine/internal/config"
	"github.com/contentmine/engine/internal/httpapi/handlers"
	"github.com/contentmine/engine/internal/httpapi/middleware"
	"github.com/contentmine/engine/internal/workflow"
)

func NewRouter(engine *workflow.Engine, cfg config.Config, intake handlers.IntakePublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	h := handlers.NewHandler(engine, cfg, intake)

	r.GET("/ping", h.Ping)

	// read-only progress surface, polled by the UI
	r.GET("/submissions/:id", h.GetSubmission)
	r.GET("/submissions", h.ListActiveSubmissions)
	r.GET("/campaigns/:campaign_id/batch", h.GetBatchStatus)
	r.GET("/stats", h.GetStats)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/submissions", h.CreateSubmission)
	authGroup.POST("/submissions/enqueue", h.EnqueueSubmission)

	return r
}
