package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cainiao1230/LoadBalance/internal/api/models"
)

// Root reports basic liveness for GET /.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Service: "loadbalance-gateway", Status: "ok"})
}

// Stats reports upstream fleet state and in-memory map sizes for
// GET /api/server/stats.
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
	}

	if h.gateway != nil {
		for _, snap := range h.gateway.RegistrySnapshots() {
			status := "idle"
			if snap.Busy {
				status = "busy"
			}
			tokenStatus := "none"
			if snap.HasToken {
				tokenStatus = "valid"
				if time.Since(snap.TokenIssuedAt) > 23*time.Hour {
					tokenStatus = "expired"
				}
			}
			resp.Upstreams = append(resp.Upstreams, models.UpstreamStats{
				Index:           snap.Index,
				URL:             snap.BaseURL,
				Username:        snap.Username,
				Status:          status,
				TokenStatus:     tokenStatus,
				TokenFetchTime:  snap.TokenIssuedAt,
				RequestTotal:    snap.RequestTotal,
				KeygenBusyCount: snap.KeygenBusyCount,
				KeySuccessCount: snap.KeySuccessCount,
			})
		}

		affSize, affCap := h.gateway.AffinityStats()
		resp.AffinityMap = models.MapStats{Size: affSize, Capacity: affCap}
		procSize, procCap := h.gateway.ProcessingStats()
		resp.ProcessingSet = models.MapStats{Size: procSize, Capacity: procCap}
	}

	c.JSON(http.StatusOK, resp)
}
