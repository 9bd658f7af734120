package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-project/airlock/internal/db"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/server"
)

func (s *Server) handleKickClient(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return
	}

	by := operator(c)
	if err := s.deps.Kicker.Kick(c.Request.Context(), int32(id), by); err != nil {
		if errors.Is(err, server.ErrClientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found", "id": id})
			return
		}
		s.logger.Error().Err(err).Int64("client_id", id).Msg("API: kick failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "kick failed"})
		return
	}

	s.logger.Info().Int64("client_id", id).Str("by", by).Msg("API: client kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "id": id})
}

type teleportRequest struct {
	X *float32 `json:"x" binding:"required"`
	Y *float32 `json:"y" binding:"required"`
}

// handleTeleportClient moves a client's player and broadcasts the move.
func (s *Server) handleTeleportClient(c *gin.Context) {
	if s.deps.Teleporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "teleport unavailable"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return
	}
	var req teleportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x and y are required"})
		return
	}

	pos := protocol.Vector2{X: *req.X, Y: *req.Y}
	by := operator(c)
	err = s.deps.Teleporter.Teleport(c.Request.Context(), int32(id), pos, by)
	switch {
	case errors.Is(err, server.ErrClientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found", "id": id})
	case errors.Is(err, server.ErrNotInGame), errors.Is(err, game.ErrNoTransform):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "id": id})
	case err != nil:
		s.logger.Error().Err(err).Int64("client_id", id).Msg("API: teleport failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "teleport failed"})
	default:
		s.logger.Info().Int64("client_id", id).Str("by", by).Msg("API: client teleported")
		c.JSON(http.StatusOK, gin.H{"status": "teleported", "id": id, "x": pos.X, "y": pos.Y})
	}
}

type banRequest struct {
	Subject string `json:"subject" binding:"required"`
	Reason  string `json:"reason"`
}

// handleAddBan bans a friend code or an IP address.
func (s *Server) handleAddBan(c *gin.Context) {
	if s.deps.Moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation store disabled"})
		return
	}
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject must not be blank"})
		return
	}

	ban := db.Ban{Subject: req.Subject, Reason: req.Reason, By: operator(c), CreatedAt: time.Now()}
	if err := s.deps.Moderation.AddBan(c.Request.Context(), ban); err != nil {
		s.logger.Error().Err(err).Str("subject", req.Subject).Msg("API: failed to add ban")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add ban"})
		return
	}

	s.logger.Info().Str("subject", ban.Subject).Str("by", ban.By).Msg("API: ban added")
	c.JSON(http.StatusCreated, ban)
}

func (s *Server) handleRemoveBan(c *gin.Context) {
	if s.deps.Moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation store disabled"})
		return
	}
	subject := c.Param("subject")
	err := s.deps.Moderation.RemoveBan(c.Request.Context(), subject)
	switch {
	case errors.Is(err, db.ErrBanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ban not found", "subject": subject})
	case err != nil:
		s.logger.Error().Err(err).Str("subject", subject).Msg("API: failed to remove ban")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove ban"})
	default:
		s.logger.Info().Str("subject", subject).Str("by", operator(c)).Msg("API: ban removed")
		c.JSON(http.StatusOK, gin.H{"status": "removed", "subject": subject})
	}
}
