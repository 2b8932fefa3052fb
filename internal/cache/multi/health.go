package multi

import (
	"fmt"

	"go.uber.org/zap"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health is the result of HealthCheck.
type Health struct {
	Status         string `json:"status"`
	MemoryEstimate int64  `json:"memory_estimate"`
	MemoryCeiling  uint64 `json:"memory_ceiling"`
	Stats          *Stats `json:"stats,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HealthCheck reports degraded when the combined memory estimate exceeds the ceiling
// and unhealthy when stats cannot be collected.
func (c *Coordinator) HealthCheck() (h Health) {
	h.MemoryCeiling = c.memoryCeiling
	defer func() {
		if rec := recover(); rec != nil {
			h.Status = StatusUnhealthy
			h.Stats = nil
			h.Error = fmt.Sprint(rec)
			c.logger.Error("Health check failed", zap.Any("panic", rec))
		}
	}()

	stats := c.Stats()
	h.Stats = &stats
	h.MemoryEstimate = stats.MemoryEstimate
	h.Status = StatusHealthy
	if stats.MemoryEstimate > 0 && uint64(stats.MemoryEstimate) > c.memoryCeiling {
		h.Status = StatusDegraded
		c.logger.Warn("Cache memory estimate above ceiling",
			zap.Int64("estimate", stats.MemoryEstimate),
			zap.Uint64("ceiling", c.memoryCeiling))
	}
	return h
}
