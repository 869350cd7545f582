package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokenduel/internal/models"
	"tokenduel/internal/repository"
	"tokenduel/internal/scheduler"
)

type CompetitionHandler struct {
	Repo      repository.Repository
	Scheduler *scheduler.Scheduler
}

func (h *CompetitionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/competitions")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/open", h.open)
	group.GET("/:id", h.get)
	group.POST("/:id/advance", h.advance)
	group.POST("/:id/cancel", h.cancel)
}

type createCompetitionRequest struct {
	TokenAID string `json:"token_a_id"`
	TokenBID string `json:"token_b_id"`

	StartTime      string `json:"start_time"`      // RFC3339, optional
	VotingDuration string `json:"voting_duration"` // "30m" style, optional
	ActiveDuration string `json:"active_duration"`

	StakeAmount *float64 `json:"stake_amount"`
	FeeBps      *int     `json:"fee_bps"`
}

func (h *CompetitionHandler) create(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var req createCompetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.TokenAID = strings.TrimSpace(req.TokenAID)
	req.TokenBID = strings.TrimSpace(req.TokenBID)
	if (req.TokenAID == "") != (req.TokenBID == "") {
		Error(c, http.StatusBadRequest, "provide both token ids or neither", nil)
		return
	}

	create := scheduler.CreateRequest{
		TokenAID:    req.TokenAID,
		TokenBID:    req.TokenBID,
		StakeAmount: req.StakeAmount,
		FeeBps:      req.FeeBps,
	}
	if strings.TrimSpace(req.StartTime) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
		if err != nil {
			Error(c, http.StatusBadRequest, "start_time must be RFC3339", nil)
			return
		}
		utc := ts.UTC()
		create.StartTime = &utc
	}
	var err error
	if create.VotingDuration, err = parseDurationField(req.VotingDuration); err != nil {
		Error(c, http.StatusBadRequest, "invalid voting_duration", nil)
		return
	}
	if create.ActiveDuration, err = parseDurationField(req.ActiveDuration); err != nil {
		Error(c, http.StatusBadRequest, "invalid active_duration", nil)
		return
	}

	comp, err := h.Scheduler.CreateManualCompetition(c.Request.Context(), create)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrPaused):
			Error(c, http.StatusConflict, err.Error(), nil)
		case errors.Is(err, scheduler.ErrNoCandidatePair):
			Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
		default:
			Error(c, http.StatusBadRequest, err.Error(), nil)
		}
		return
	}
	Ok(c, comp, nil)
}

func (h *CompetitionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListCompetitionsParams{
		Limit:   limit,
		Offset:  offset,
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	if raw := strings.TrimSpace(c.Query("phase")); raw != "" {
		phase := models.Phase(strings.ToLower(raw))
		params.Phase = &phase
	}
	if raw := strings.TrimSpace(c.Query("automated")); raw != "" {
		params.IsAutomated = boolPtr(raw == "true" || raw == "1")
	}

	items, err := h.Repo.ListCompetitions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountCompetitions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *CompetitionHandler) open(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	Ok(c, h.Scheduler.OpenCompetitions(), nil)
}

func (h *CompetitionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	comp, err := h.Repo.GetCompetitionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if comp == nil {
		Error(c, http.StatusNotFound, "competition not found", nil)
		return
	}
	Ok(c, comp, nil)
}

// advance forces a one-step phase transition, the same path the timers take.
// Useful when an operator wants to close a round early.
func (h *CompetitionHandler) advance(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	err := h.Scheduler.AdvancePhase(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownCompetition):
			Error(c, http.StatusNotFound, err.Error(), nil)
		case errors.Is(err, scheduler.ErrAlreadyTerminal):
			Error(c, http.StatusConflict, err.Error(), nil)
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	Ok(c, gin.H{"id": c.Param("id")}, nil)
}

type cancelCompetitionRequest struct {
	Reason string `json:"reason"`
}

func (h *CompetitionHandler) cancel(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var req cancelCompetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		Error(c, http.StatusBadRequest, "reason required", nil)
		return
	}
	err := h.Scheduler.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownCompetition):
			Error(c, http.StatusNotFound, err.Error(), nil)
		case errors.Is(err, scheduler.ErrAlreadyTerminal):
			Error(c, http.StatusConflict, err.Error(), nil)
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	Ok(c, gin.H{"id": c.Param("id"), "phase": models.PhaseCancelled}, nil)
}
