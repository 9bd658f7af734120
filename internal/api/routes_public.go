package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airlock-project/airlock/internal/util"
	"github.com/airlock-project/airlock/internal/version"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "airlock",
		"version": version.AppVersion,
	})
}

func (s *Server) handleServerInfo(c *gin.Context) {
	srv := s.cfg.GetServer()
	sysInfo := util.GetSystemInfo()
	host := util.GetHostStats()

	c.JSON(http.StatusOK, gin.H{
		"name":            srv.Name,
		"public_ip":       srv.PublicIP,
		"port":            srv.ListenPort,
		"version":         version.AppVersion,
		"clients":         s.deps.Clients.Count(),
		"max_connections": srv.MaxConnections,
		"games":           s.deps.Games.Count(),
		"supported_range": s.deps.Compat.SupportedRange(),
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
		"cpu_percent":     host.CPUPercent,
		"memory_percent":  host.MemoryPercent,
		"process_rss_mb":  host.ProcessRSSMB,
		"uptime_sec":      host.UptimeSec,
	})
}

// handleVersions lists the compatibility groups.
func (s *Server) handleVersions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supported_range": s.deps.Compat.SupportedRange(),
		"groups":          s.deps.Compat.Snapshot(),
	})
}
