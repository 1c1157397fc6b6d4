package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/contentmine/engine/internal/workflow"
)

type createSubmissionReq struct {
	GeneratorID         string `json:"generator_id" binding:"required"`
	CampaignID          string `json:"campaign_id" binding:"required"`
	CampaignTitle       string `json:"campaign_title"`
	CampaignDescription string `json:"campaign_description"`
	Guidelines          string `json:"guidelines"`
	Personality         string `json:"personality"`
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	APIKey              string `json:"api_key"`
	SubmitterAddress    string `json:"submitter_address"`
	AutoSubmit          bool   `json:"auto_submit"`
	BatchSize           int    `json:"batch_size"`
}

func (h *Handler) CreateSubmission(c *gin.Context) {
	var req createSubmissionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := h.Engine.Submit(c.Request.Context(), workflow.SubmissionConfig{
		GeneratorID:         req.GeneratorID,
		CampaignID:          req.CampaignID,
		CampaignTitle:       req.CampaignTitle,
		CampaignDescription: req.CampaignDescription,
		Guidelines:          req.Guidelines,
		Personality:         req.Personality,
		Provider:            req.Provider,
		Model:               req.Model,
		APIKey:              req.APIKey,
		SubmitterAddress:    req.SubmitterAddress,
		AutoSubmit:          req.AutoSubmit,
		BatchSize:           req.BatchSize,
	})
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidConfig) {
			fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		log.Errorf("submit failed for campaign %s: %v", req.CampaignID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	ok(c, gin.H{"submission_id": id})
}

// EnqueueSubmission publishes the config to the intake queue instead of
// starting the pipeline in this process. The intake worker picks it up.
func (h *Handler) EnqueueSubmission(c *gin.Context) {
	if h.Intake == nil {
		fail(c, http.StatusServiceUnavailable, 50301, "intake queue unavailable")
		return
	}

	var req createSubmissionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	cfg := workflow.SubmissionConfig{
		GeneratorID:         req.GeneratorID,
		CampaignID:          req.CampaignID,
		CampaignTitle:       req.CampaignTitle,
		CampaignDescription: req.CampaignDescription,
		Guidelines:          req.Guidelines,
		Personality:         req.Personality,
		Provider:            req.Provider,
		Model:               req.Model,
		APIKey:              req.APIKey,
		SubmitterAddress:    req.SubmitterAddress,
		AutoSubmit:          req.AutoSubmit,
		BatchSize:           req.BatchSize,
	}
	if err := h.Intake.PublishSubmission(c.Request.Context(), cfg); err != nil {
		log.Errorf("intake publish failed for campaign %s: %v", req.CampaignID, err)
		fail(c, http.StatusInternalServerError, 50002, "failed to enqueue submission")
		return
	}

	ok(c, gin.H{"queued": true})
}

func (h *Handler) GetSubmission(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, 10003, "submission id required")
		return
	}

	rec, err := h.Engine.GetProgress(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			fail(c, http.StatusNotFound, 40401, "submission not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	ok(c, gin.H{"submission": rec})
}

func (h *Handler) ListActiveSubmissions(c *gin.Context) {
	recs, err := h.Engine.ListActive(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"submissions": recs})
}

func (h *Handler) GetBatchStatus(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	if campaignID == "" {
		fail(c, http.StatusBadRequest, 10004, "campaign id required")
		return
	}

	snap, found := h.Engine.BatchStatus(campaignID)
	if !found {
		fail(c, http.StatusNotFound, 40402, "no batch for campaign")
		return
	}
	ok(c, gin.H{"batch": snap})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.Engine.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"stats": stats})
}
