// internal/model/resource_usage.go
package model

import "time"

type ResourceUsage struct {
	TotalMemoryBytes uint64    `json:"total_memory_bytes"`
	UsedMemoryBytes  uint64    `json:"used_memory_bytes"`
	ProcessRSSBytes  uint64    `json:"process_rss_bytes"`
	CPUTotalPercent  float64   `json:"cpu_total_percent"`
	CPUCorePercent   []float64 `json:"cpu_core_percent"`
	AppStorageBytes  int64     `json:"app_storage_bytes"`
	SampledAt        time.Time `json:"sampled_at"`
}
