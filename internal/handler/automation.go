package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokenduel/internal/scheduler"
)

type AutomationHandler struct {
	Scheduler *scheduler.Scheduler
}

func (h *AutomationHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/automation")
	group.GET("", h.status)
	group.POST("/enable", h.enable)
	group.POST("/disable", h.disable)
	group.PUT("/params", h.updateParams)

	admin := r.Group("/api/v1/admin")
	admin.GET("/pause", h.pauseStatus)
	admin.POST("/pause", h.setPaused)
}

type automationParamsRequest struct {
	CreationInterval *string  `json:"creation_interval"` // "2h" style
	MaxConcurrent    *int     `json:"max_concurrent"`
	VotingDuration   *string  `json:"voting_duration"`
	ActiveDuration   *string  `json:"active_duration"`
	StakeAmount      *float64 `json:"stake_amount"`
	FeeBps           *int     `json:"fee_bps"`
}

func (r *automationParamsRequest) toParams() (scheduler.AutomationParams, error) {
	params := scheduler.AutomationParams{
		MaxConcurrent: r.MaxConcurrent,
		StakeAmount:   r.StakeAmount,
		FeeBps:        r.FeeBps,
	}
	parse := func(raw *string) (*time.Duration, error) {
		if raw == nil || strings.TrimSpace(*raw) == "" {
			return nil, nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(*raw))
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	var err error
	if params.CreationInterval, err = parse(r.CreationInterval); err != nil {
		return params, err
	}
	if params.VotingDuration, err = parse(r.VotingDuration); err != nil {
		return params, err
	}
	if params.ActiveDuration, err = parse(r.ActiveDuration); err != nil {
		return params, err
	}
	return params, nil
}

func (h *AutomationHandler) status(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	Ok(c, h.Scheduler.AutomationStatus(), nil)
}

func (h *AutomationHandler) enable(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var req automationParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	params, err := req.toParams()
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid duration: "+err.Error(), nil)
		return
	}
	Ok(c, h.Scheduler.EnableAutomation(params), nil)
}

func (h *AutomationHandler) disable(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	Ok(c, h.Scheduler.DisableAutomation(), nil)
}

func (h *AutomationHandler) updateParams(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var req automationParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	params, err := req.toParams()
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid duration: "+err.Error(), nil)
		return
	}
	Ok(c, h.Scheduler.UpdateAutomationParameters(params), nil)
}

func (h *AutomationHandler) pauseStatus(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	Ok(c, gin.H{"paused": h.Scheduler.Paused()}, nil)
}

type setPausedRequest struct {
	Paused bool `json:"paused"`
}

// setPaused flips the platform pause flag. Pausing only blocks new
// competition creation; in-flight competitions keep advancing.
func (h *AutomationHandler) setPaused(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var req setPausedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	h.Scheduler.SetPaused(req.Paused)
	Ok(c, gin.H{"paused": h.Scheduler.Paused()}, nil)
}
