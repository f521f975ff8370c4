package handlers

import (
	"errors"
	"net/http"
	"strings"

	"nutrient_mixer/internal/job"
	"nutrient_mixer/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidJobType = "invalid job type; use fill, mix or send"
	errStopJob        = "failed to stop job"
)

// FillRequest starts a fill job.
type FillRequest struct {
	TankID  int `json:"tank_id" binding:"required" example:"1"`
	Gallons int `json:"gallons" binding:"required" example:"50"`
}

// MixRequest starts a mix job.
type MixRequest struct {
	TankID int `json:"tank_id" binding:"required" example:"1"`
}

// SendRequest starts a send job.
type SendRequest struct {
	TankID  int `json:"tank_id" binding:"required" example:"1"`
	RoomID  int `json:"room_id" binding:"required" example:"1"`
	Gallons int `json:"gallons" binding:"required" example:"25"`
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// respondStart maps a submission result onto a status code. The body is the
// result itself in every case.
func (h *Handler) respondStart(c *gin.Context, res job.StartResult) {
	code := http.StatusOK
	switch {
	case res.Success:
	case errors.Is(res.Err, job.ErrJobActive):
		code = http.StatusConflict
	case errors.Is(res.Err, job.ErrValidation):
		code = http.StatusBadRequest
	default:
		code = http.StatusInternalServerError
	}
	if !res.Success && h.log != nil {
		h.log.Infow("job_rejected", "path", c.FullPath(), "err", res.Err)
	}
	c.JSON(code, res)
}

// parseJobType reads the :type path parameter, writing a 400 when it is not
// a known job slot.
func parseJobType(c *gin.Context) (models.JobType, bool) {
	t := models.JobType(strings.ToLower(c.Param("type")))
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJobType})
		return "", false
	}
	return t, true
}

// @Summary      Start fill job
// @Description  Opens the tank valve and meters the requested gallons in.
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        body  body      FillRequest  true  "Fill payload"
// @Success      200   {object}  job.StartResult
// @Failure      400   {object}  job.StartResult
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  job.StartResult
// @Router       /api/v1/jobs/fill [post]
// @Security     BearerAuth
func (h *Handler) startFill(c *gin.Context) {
	var req FillRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	h.respondStart(c, h.services.Jobs.StartFill(req.TankID, req.Gallons))
}

// @Summary      Start mix job
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        body  body      MixRequest  true  "Mix payload"
// @Success      200   {object}  job.StartResult
// @Failure      400   {object}  job.StartResult
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  job.StartResult
// @Router       /api/v1/jobs/mix [post]
// @Security     BearerAuth
func (h *Handler) startMix(c *gin.Context) {
	var req MixRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	h.respondStart(c, h.services.Jobs.StartMix(req.TankID))
}

// @Summary      Start send job
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        body  body      SendRequest  true  "Send payload"
// @Success      200   {object}  job.StartResult
// @Failure      400   {object}  job.StartResult
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  job.StartResult
// @Router       /api/v1/jobs/send [post]
// @Security     BearerAuth
func (h *Handler) startSend(c *gin.Context) {
	var req SendRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	h.respondStart(c, h.services.Jobs.StartSend(req.TankID, req.RoomID, req.Gallons))
}

// @Summary      List active jobs
// @Tags         jobs
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, jobs"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/jobs [get]
// @Security     BearerAuth
func (h *Handler) listJobs(c *gin.Context) {
	jobs := h.services.Jobs.Active()
	if jobs == nil {
		jobs = []models.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(jobs), "jobs": jobs})
}

// @Summary      Get job status
// @Tags         jobs
// @Produce      json
// @Param        type  path      string  true  "Job type"  Enums(fill,mix,send)
// @Success      200   {object}  models.Job
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/jobs/{type} [get]
// @Security     BearerAuth
func (h *Handler) getJob(c *gin.Context) {
	t, ok := parseJobType(c)
	if !ok {
		return
	}
	st := h.services.Jobs.GetStatus(t)
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no " + string(t) + " job"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Stop job
// @Description  Stops the active job of the given type and runs its cleanup.
// @Tags         jobs
// @Produce      json
// @Param        type  path      string  true  "Job type"  Enums(fill,mix,send)
// @Success      200   {object}  map[string]interface{}  "status, job"
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/jobs/{type} [delete]
// @Security     BearerAuth
func (h *Handler) stopJob(c *gin.Context) {
	t, ok := parseJobType(c)
	if !ok {
		return
	}
	stopped, err := h.services.Jobs.StopJob(c.Request.Context(), t)
	switch {
	case errors.Is(err, job.ErrNoActiveJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logAndJSONError(c, http.StatusInternalServerError, errStopJob, "job_stop_failed", err, "type", t)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "job": stopped})
}
