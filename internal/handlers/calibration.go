package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nutrient_mixer/internal/device"

	"github.com/gin-gonic/gin"
)

// SensorCalibrationRequest is one calibration point for a pH or EC probe.
type SensorCalibrationRequest struct {
	// ph: low, mid, high, clear. ec: dry, single, low, high, clear.
	Point string `json:"point" binding:"required" example:"mid"`
	// pH units for ph, µS/cm for ec. Ignored by clear and dry.
	Value float64 `json:"value" example:"7.0"`
}

// FlowCalibrationRequest stores a measured pulses-per-gallon value.
type FlowCalibrationRequest struct {
	PulsesPerGallon int `json:"pulses_per_gallon" binding:"required" example:"220"`
}

func (h *Handler) registerCalibrationRoutes(api *gin.RouterGroup) {
	cal := api.Group("/calibration")
	{
		cal.POST("/sensors/:probe", h.calibrateSensor)
		cal.POST("/flow-meters/:id", h.calibrateFlowMeter)
	}
}

// calibrationStatus maps device errors: bad input is 400, a device that did
// not accept the command is 502.
func calibrationStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrInvalidPoint),
		errors.Is(err, device.ErrUnknownProbe),
		errors.Is(err, device.ErrInvalidGallons):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// @Summary      Calibrate sensor probe
// @Tags         calibration
// @Accept       json
// @Produce      json
// @Param        probe  path      string                    true  "Probe"  Enums(ph,ec)
// @Param        body   body      SensorCalibrationRequest  true  "Calibration point"
// @Success      200    {object}  map[string]string
// @Failure      400    {object}  map[string]string
// @Failure      502    {object}  map[string]string
// @Router       /api/v1/calibration/sensors/{probe} [post]
// @Security     BearerAuth
func (h *Handler) calibrateSensor(c *gin.Context) {
	var req SensorCalibrationRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	probe := strings.ToLower(c.Param("probe"))
	point := strings.ToLower(req.Point)
	if err := h.services.Calibration.CalibrateSensor(c.Request.Context(), probe, point, req.Value); err != nil {
		code := calibrationStatus(err)
		if code != http.StatusBadRequest && h.log != nil {
			h.log.Errorw("sensor_calibration_failed", "probe", probe, "point", point, "err", err)
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "calibrated", "probe": probe, "point": point})
}

// @Summary      Calibrate flow meter
// @Tags         calibration
// @Accept       json
// @Produce      json
// @Param        id    path      int                     true  "Flow meter id"
// @Param        body  body      FlowCalibrationRequest  true  "Pulses per gallon"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/calibration/flow-meters/{id} [post]
// @Security     BearerAuth
func (h *Handler) calibrateFlowMeter(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flow meter id"})
		return
	}
	var req FlowCalibrationRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	if err := h.services.Calibration.CalibrateFlowMeter(id, req.PulsesPerGallon); err != nil {
		c.JSON(calibrationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "calibrated", "id": id, "pulses_per_gallon": req.PulsesPerGallon})
}
