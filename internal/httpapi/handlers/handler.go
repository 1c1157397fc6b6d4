package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contentmine/engine/internal/config"
	"github.com/contentmine/engine/internal/workflow"
)

// IntakePublisher hands a submission to the async intake queue instead of
// running it in-process.
type IntakePublisher interface {
	PublishSubmission(ctx context.Context, cfg workflow.SubmissionConfig) error
}

type Handler struct {
	Engine *workflow.Engine
	Cfg    config.Config
	Intake IntakePublisher // nil when no intake queue is configured
}

func NewHandler(engine *workflow.Engine, cfg config.Config, intake IntakePublisher) *Handler {
	return &Handler{Engine: engine, Cfg: cfg, Intake: intake}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
