package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/version"
)

type groupRequest struct {
	Versions []string `json:"versions" binding:"required,min=1"`
}

type versionRequest struct {
	Version string `json:"version" binding:"required"`
}

// handleAddGroup registers a new compatibility group.
func (s *Server) handleAddGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	versions := make([]version.GameVersion, 0, len(req.Versions))
	for _, raw := range req.Versions {
		v, err := version.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		versions = append(versions, v)
	}

	if _, err := s.deps.Compat.AddGroup(versions...); err != nil {
		s.compatError(c, err)
		return
	}
	for _, v := range versions {
		s.compatChanged(c, "group_added", v)
	}
	c.JSON(http.StatusCreated, gin.H{"groups": s.deps.Compat.Snapshot()})
}

// handleAddVersion adds a version to the group at :index.
func (s *Server) handleAddVersion(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	groups := s.deps.Compat.Groups()
	if err != nil || index < 0 || index >= len(groups) {
		c.JSON(http.StatusNotFound, gin.H{"error": "compatibility group not found"})
		return
	}
	var req versionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	v, err := version.Parse(req.Version)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Compat.AddVersionToGroup(groups[index], v); err != nil {
		s.compatError(c, err)
		return
	}
	s.compatChanged(c, "version_added", v)
	c.JSON(http.StatusOK, gin.H{"groups": s.deps.Compat.Snapshot()})
}

func (s *Server) handleRemoveVersion(c *gin.Context) {
	v, err := version.Parse(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.deps.Compat.RemoveVersion(v) {
		c.JSON(http.StatusNotFound, gin.H{"error": "version not supported", "version": v.String()})
		return
	}
	s.compatChanged(c, "version_removed", v)
	c.JSON(http.StatusOK, gin.H{"groups": s.deps.Compat.Snapshot()})
}

func (s *Server) compatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, compat.ErrVersionClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, compat.ErrGroupNotRegistered):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("API: compatibility change failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "compatibility change failed"})
	}
}

func (s *Server) compatChanged(c *gin.Context, action string, v version.GameVersion) {
	s.deps.Events.Emit(c.Request.Context(), events.Event{
		Type:    events.EventCompatChanged,
		Source:  "api",
		Payload: events.CompatChangedPayload{Action: action, Version: v.String()},
	})
}
