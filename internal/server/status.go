package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleStatus reports process and host health plus a snapshot of every
// live session. Host probes are best effort, a failed probe leaves its
// field at zero.
func (s *Server) handleStatus(c *gin.Context) {
	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	var memUsed, memTotal uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsed = vm.Used
		memTotal = vm.Total
	}
	var hostname string
	var hostUptime uint64
	if info, err := host.Info(); err == nil {
		hostname = info.Hostname
		hostUptime = info.Uptime
	}

	c.JSON(http.StatusOK, gin.H{
		"app":             s.cfg.AppName,
		"uptime_s":        int64(time.Since(s.started).Seconds()),
		"hostname":        hostname,
		"host_uptime_s":   hostUptime,
		"cpu_percent":     cpuPercent,
		"mem_used_bytes":  memUsed,
		"mem_total_bytes": memTotal,
		"sessions":        s.manager.Snapshots(),
	})
}
