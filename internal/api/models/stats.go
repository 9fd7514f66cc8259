package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// UpstreamStats is one decryption upstream's snapshot in /api/server/stats.
type UpstreamStats struct {
	Index           int       `json:"idx"`
	URL             string    `json:"url"`
	Username        string    `json:"username"`
	Status          string    `json:"status"`      // "busy" or "idle"
	TokenStatus     string    `json:"token_status"` // "valid", "expired", or "none"
	TokenFetchTime  time.Time `json:"token_fetch_time,omitempty"`
	RequestTotal    uint64    `json:"request_total"`
	KeygenBusyCount uint64    `json:"keygen_busy_count"`
	KeySuccessCount uint64    `json:"key_success_count"`
}

// MapStats reports an in-memory map or set's current size and fixed capacity.
type MapStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
}

// ServerStatsResponse contains gateway runtime statistics.
type ServerStatsResponse struct {
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     time.Time       `json:"start_time"`
	CPU           CPUStats        `json:"cpu"`
	Memory        MemoryStats     `json:"memory"`
	Upstreams     []UpstreamStats `json:"upstreams"`
	AffinityMap   MapStats        `json:"affinity_map"`
	ProcessingSet MapStats        `json:"processing_set"`
}
