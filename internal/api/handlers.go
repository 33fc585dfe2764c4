package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bybit-tpsl-sync/internal/bybit"
	"bybit-tpsl-sync/internal/reconcile"
	"bybit-tpsl-sync/internal/service"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// handleApplyProtection accepts a protection intent and runs one
// reconciliation pass against the venue.
func (s *Server) handleApplyProtection(c *gin.Context) {
	var intent reconcile.PositionIntent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	report, err := s.svc.ApplyProtection(c.Request.Context(), intent)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoOpenPosition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrEmptySymbol),
			errors.Is(err, reconcile.ErrInvalidSide),
			errors.Is(err, reconcile.ErrInvalidLevel),
			errors.Is(err, reconcile.ErrDuplicateLevel),
			errors.Is(err, reconcile.ErrInvalidPrice),
			errors.Is(err, reconcile.ErrInvalidQuantity):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("Protection update failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome": reconcile.Classify(report),
		"report":  report,
	})
}

func (s *Server) handlePositionStatus(c *gin.Context) {
	symbol := c.Param("symbol")
	side, ok := parseSide(c)
	if !ok {
		return
	}

	status, err := s.svc.PositionStatus(c.Request.Context(), symbol, side)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("Position status lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if status.Snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":       "no open position",
			"ladder_refs": status.Refs,
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleClearProtection(c *gin.Context) {
	symbol := c.Param("symbol")
	side, ok := parseSide(c)
	if !ok {
		return
	}

	if err := s.svc.ClearProtection(c.Request.Context(), symbol, side); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleHistory(c *gin.Context) {
	symbol := c.Param("symbol")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := s.svc.History(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"events": events,
	})
}

// parseSide reads the required "side" query parameter. On failure it writes
// the error response and returns ok=false.
func parseSide(c *gin.Context) (bybit.PositionSide, bool) {
	side := bybit.PositionSide(c.Query("side"))
	if !side.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side query parameter must be Long or Short"})
		return "", false
	}
	return side, true
}
