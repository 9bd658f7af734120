package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/db"
)

func (s *Server) handleListClients(c *gin.Context) {
	all := s.deps.Clients.All()
	infos := make([]client.Info, 0, len(all))
	for _, cl := range all {
		infos = append(infos, cl.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	c.JSON(http.StatusOK, gin.H{"count": len(infos), "clients": infos})
}

func (s *Server) handleListGames(c *gin.Context) {
	infos := s.deps.Games.Infos()
	c.JSON(http.StatusOK, gin.H{"count": len(infos), "games": infos})
}

// handleListReports accepts friend_code, game and limit query filters.
func (s *Server) handleListReports(c *gin.Context) {
	if s.deps.Moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation store disabled"})
		return
	}
	filter := db.ReportFilter{
		FriendCode: c.Query("friend_code"),
		GameCode:   c.Query("game"),
		Limit:      100,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	reports, err := s.deps.Moderation.ListReports(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("API: failed to list reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(reports), "reports": reports})
}

func (s *Server) handleListBans(c *gin.Context) {
	if s.deps.Moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation store disabled"})
		return
	}
	bans, err := s.deps.Moderation.ListBans(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("API: failed to list bans")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(bans), "bans": bans})
}
