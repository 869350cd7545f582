package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokenduel/internal/pair"
	"tokenduel/internal/prices"
	"tokenduel/internal/repository"
	"tokenduel/internal/twap"
)

type PriceHandler struct {
	Repo     repository.Repository
	Prices   *prices.Aggregator
	TWAP     *twap.Engine
	Selector *pair.Selector
}

func (h *PriceHandler) Register(r *gin.Engine) {
	tokens := r.Group("/api/v1/tokens")
	tokens.GET("", h.listTokens)
	tokens.GET("/:id/price", h.currentPrice)
	tokens.GET("/:id/twap", h.twapWindow)

	r.GET("/api/v1/pairs/preview", h.previewPair)
}

func (h *PriceHandler) listTokens(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	tokens, err := h.Repo.ListActiveTokens(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, tokens, nil)
}

func (h *PriceHandler) currentPrice(c *gin.Context) {
	if h.Repo == nil || h.Prices == nil {
		Error(c, http.StatusInternalServerError, "prices unavailable", nil)
		return
	}
	id := c.Param("id")
	tokens, err := h.Repo.GetTokensByIDs(c.Request.Context(), []string{id})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if len(tokens) == 0 {
		Error(c, http.StatusNotFound, "token not found", nil)
		return
	}
	useCache := strings.TrimSpace(c.Query("fresh")) == ""
	price, err := h.Prices.CurrentPrice(c.Request.Context(), id, tokens[0].Symbol, useCache)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, price, nil)
}

func (h *PriceHandler) twapWindow(c *gin.Context) {
	if h.TWAP == nil {
		Error(c, http.StatusInternalServerError, "twap unavailable", nil)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("start")))
	if err != nil {
		Error(c, http.StatusBadRequest, "start must be RFC3339", nil)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("end")))
	if err != nil {
		Error(c, http.StatusBadRequest, "end must be RFC3339", nil)
		return
	}
	value, err := h.TWAP.Calculate(c.Request.Context(), c.Param("id"), start.UTC(), end.UTC())
	if err != nil {
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"token_id": c.Param("id"),
		"start":    start.UTC(),
		"end":      end.UTC(),
		"twap":     value,
	}, nil)
}

// previewPair runs the selector without creating anything, so operators can
// see what the automation would pick next.
func (h *PriceHandler) previewPair(c *gin.Context) {
	if h.Selector == nil {
		Error(c, http.StatusInternalServerError, "selector unavailable", nil)
		return
	}
	picked, err := h.Selector.SelectOptimalPair(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if picked == nil {
		Error(c, http.StatusNotFound, "no eligible token pair", nil)
		return
	}
	Ok(c, picked, nil)
}
