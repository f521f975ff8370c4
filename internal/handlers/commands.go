package handlers

import (
	"errors"
	"net/http"

	"nutrient_mixer/internal/command"

	"github.com/gin-gonic/gin"
)

// CommandRequest carries one raw wire command.
type CommandRequest struct {
	Command string `json:"command" binding:"required" example:"Start;Relay;3;ON;end"`
}

// @Summary      Submit wire command
// @Description  Queues a command such as Start;Relay;3;ON;end for the dispatcher.
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        body  body      CommandRequest  true  "Command payload"
// @Success      202   {object}  map[string]interface{}  "status, command"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/v1/commands [post]
// @Security     BearerAuth
func (h *Handler) submitCommand(c *gin.Context) {
	var req CommandRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	cmd, err := h.services.Commands.Submit(req.Command)
	switch {
	case errors.Is(err, command.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, command.ErrQueueFull), errors.Is(err, command.ErrStopped):
		h.logAndJSONError(c, http.StatusServiceUnavailable, err.Error(), "command_rejected", err, "command", req.Command)
		return
	case err != nil:
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to queue command", "command_failed", err, "command", req.Command)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "command": cmd.Wire()})
}
