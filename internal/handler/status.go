package handler

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"guildwarden/internal/logger"
)

// 统计信息
var (
	totalCommands     int64
	totalMemberEvents int64
	totalErrors       int64
	totalTimeouts     int64
	activeHandlers    int64
	startTime         = time.Now()
)

// incrementCounter 安全地增加计数器
func incrementCounter(counter *int64) {
	atomic.AddInt64(counter, 1)
}

func atomicAdd(counter *int64, delta int64) {
	atomic.AddInt64(counter, delta)
}

// GetProcessingStats 获取处理统计信息
func GetProcessingStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	return map[string]interface{}{
		"uptime_seconds":      int64(uptime.Seconds()),
		"total_commands":      atomic.LoadInt64(&totalCommands),
		"total_member_events": atomic.LoadInt64(&totalMemberEvents),
		"total_errors":        atomic.LoadInt64(&totalErrors),
		"total_timeouts":      atomic.LoadInt64(&totalTimeouts),
		"active_handlers":     atomic.LoadInt64(&activeHandlers),
		"max_concurrent":      int64(maxConcurrentHandlers),
		"memory_usage_mb":     bToMb(m.Alloc),
		"total_alloc_mb":      bToMb(m.TotalAlloc),
		"sys_memory_mb":       bToMb(m.Sys),
		"gc_runs":             m.NumGC,
		"goroutines":          runtime.NumGoroutine(),
	}
}

// LogProcessingStats 定期记录处理统计信息，直到 ctx 结束
func LogProcessingStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := GetProcessingStats()
		logger.Infof("Processing stats: %+v", stats)

		// 如果活跃处理器数量过多，记录警告
		if active := stats["active_handlers"].(int64); active > maxConcurrentHandlers*8/10 {
			logger.Warningf("High number of active handlers: %d", active)
		}

		// 如果错误率过高，记录警告
		commands := stats["total_commands"].(int64)
		errs := stats["total_errors"].(int64)
		if commands > 0 && float64(errs)/float64(commands) > 0.1 {
			logger.Warningf("High error rate: %.2f%% (%d errors out of %d commands)",
				float64(errs)/float64(commands)*100, errs, commands)
		}
	}
}

// bToMb 将字节转换为MB
func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

// GetDetailedStatus 获取详细状态信息（用于调试）
func GetDetailedStatus() string {
	stats := GetProcessingStats()
	return fmt.Sprintf(`
=== GuildWarden Processing Status ===
Uptime: %d seconds
Commands: %d
Member Events: %d
Errors: %d
Timeouts: %d
Active Handlers: %d/%d
Memory Usage: %d MB
Total Allocated: %d MB
System Memory: %d MB
GC Runs: %d
Goroutines: %d
=====================================`,
		stats["uptime_seconds"],
		stats["total_commands"],
		stats["total_member_events"],
		stats["total_errors"],
		stats["total_timeouts"],
		stats["active_handlers"],
		stats["max_concurrent"],
		stats["memory_usage_mb"],
		stats["total_alloc_mb"],
		stats["sys_memory_mb"],
		stats["gc_runs"],
		stats["goroutines"],
	)
}
