package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	statusOK      = "ok"
	statusStopped = "stopped"

	errEmergencyStop = "emergency stop incomplete"
)

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Rig state
// @Description  Relays, pumps, flow meters and the latest EC/pH reading.
// @Tags         rig
// @Produce      json
// @Success      200  {object}  models.RigSnapshot
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/rig [get]
// @Security     BearerAuth
func (h *Handler) getRig(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Monitoring.Snapshot())
}

// @Summary      Emergency stop
// @Description  Stops every job, then closes all relays, stops the pumps and the flow meters.
// @Tags         rig
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, rig"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]interface{}  "error, rig"
// @Router       /api/v1/emergency-stop [post]
// @Security     BearerAuth
func (h *Handler) emergencyStop(c *gin.Context) {
	err := h.services.Monitoring.EmergencyStop(c.Request.Context())
	snap := h.services.Monitoring.Snapshot()
	if err != nil {
		if h.log != nil {
			h.log.Errorw("emergency_stop_failed", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": errEmergencyStop + ": " + err.Error(), "rig": snap})
		return
	}
	if h.log != nil {
		h.log.Warnw("emergency_stop")
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStopped, "rig": snap})
}
