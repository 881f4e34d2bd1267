package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/pipeline"
	"github.com/SunilSharmaNP/ssm/progress"
	"github.com/SunilSharmaNP/ssm/store"
)

// JobService is the slice of the orchestrator the API needs.
type JobService interface {
	Submit(req pipeline.Request, handle progress.Handle) (pipeline.Job, error)
	Job(id string) (pipeline.Job, error)
	Jobs() []pipeline.Job
	CancelJob(id string) error
	RequestCancel(userID string) pipeline.CancelSummary
}

type Handler struct {
	jobs     JobService
	settings store.Store
	cfg      *config.Config
	log      *logrus.Entry
}

func NewHandler(jobs JobService, settings store.Store, cfg *config.Config, log *logrus.Entry) *Handler {
	return &Handler{
		jobs:     jobs,
		settings: settings,
		cfg:      cfg,
		log:      log,
	}
}

type InputRequest struct {
	Origin string `json:"origin" binding:"required"`
	Ref    string `json:"ref" binding:"required"`
}

type JobRequest struct {
	UserID     string         `json:"userId" binding:"required"`
	SessionKey string         `json:"sessionKey"`
	ChatID     string         `json:"chatId"`
	Inputs     []InputRequest `json:"inputs" binding:"required"`
	Mode       string         `json:"mode"`
	PostEncode bool           `json:"postEncode"`
	Dest       string         `json:"dest"`
	OutputName string         `json:"outputName"`
}

func parseOrigin(s string) (pipeline.SourceKind, error) {
	switch k := pipeline.SourceKind(s); k {
	case pipeline.SourceURL, pipeline.SourceTransport, pipeline.SourceLocal:
		return k, nil
	}
	return "", errors.Errorf("unknown input origin %q", s)
}

// handleCreateJob accepts a merge/encode job and starts it asynchronously.
func (h *Handler) handleCreateJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]pipeline.MediaRef, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		origin, err := parseOrigin(in.Origin)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inputs = append(inputs, pipeline.MediaRef{Origin: origin, Ref: in.Ref})
	}

	handle := &progress.LogHandle{Log: h.log, ID: req.UserID}
	job, err := h.jobs.Submit(pipeline.Request{
		UserID:     req.UserID,
		SessionKey: req.SessionKey,
		ChatID:     req.ChatID,
		Inputs:     inputs,
		Mode:       pipeline.Mode(req.Mode),
		PostEncode: req.PostEncode,
		Dest:       pipeline.Destination(req.Dest),
		OutputName: req.OutputName,
	}, handle)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNoInputs), errors.Is(err, pipeline.ErrBadMode):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, pipeline.ErrTooManyJobs):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID, "status": job.Status})
}

func (h *Handler) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.Jobs())
}

func (h *Handler) handleGetJob(c *gin.Context) {
	job, err := h.jobs.Job(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) handleCancelJob(c *gin.Context) {
	err := h.jobs.CancelJob(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job cancellation requested"})
}

// handleCancelUser is the API face of the /cancel chat command: it stops
// everything the user has going.
func (h *Handler) handleCancelUser(c *gin.Context) {
	sum := h.jobs.RequestCancel(c.Param("userId"))
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) handleGetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

// handleUpdateSettings validates and stores a user's encode settings.
func (h *Handler) handleUpdateSettings(c *gin.Context) {
	var s store.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.Resolve(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.Put(c.Param("userId"), s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) handleListPresets(c *gin.Context) {
	c.JSON(http.StatusOK, store.Presets())
}
