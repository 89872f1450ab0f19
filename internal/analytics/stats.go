package analytics

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsageInfo holds disk space information for a single volume.
type DiskUsageInfo struct {
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// Summary is the aggregate view the control surface exposes for the
// history/statistics commands.
type Summary struct {
	TotalBytes   int64            `json:"total_bytes"`
	TotalFiles   int64            `json:"total_files"`
	DailyHistory map[string]int64 `json:"daily_history"`
	DiskUsage    DiskUsageInfo    `json:"disk_usage"`
}

// StatsManager layers in-memory instantaneous speed tracking and disk
// usage reporting on top of the durable Store.
type StatsManager struct {
	store          *Store
	currentSpeed   int64 // atomic, bytes/sec
	downloadPathFn func() (string, error)
}

// NewStatsManager wires a stats manager to store. downloadPathFn
// resolves the volume to report disk usage for (the configured
// default download directory).
func NewStatsManager(store *Store, downloadPathFn func() (string, error)) *StatsManager {
	return &StatsManager{store: store, downloadPathFn: downloadPathFn}
}

func (sm *StatsManager) UpdateDownloadSpeed(bytesPerSec int64) {
	atomic.StoreInt64(&sm.currentSpeed, bytesPerSec)
}

func (sm *StatsManager) GetCurrentSpeed() int64 {
	return atomic.LoadInt64(&sm.currentSpeed)
}

// GetLifetimeBytes sums Bytes across every completed job ever recorded.
func (sm *StatsManager) GetLifetimeBytes() (int64, error) {
	var total int64
	err := sm.store.db.Model(&CompletedJob{}).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error
	return total, err
}

// GetTotalFiles counts every completed job recorded.
func (sm *StatsManager) GetTotalFiles() (int64, error) {
	var total int64
	err := sm.store.db.Model(&CompletedJob{}).Count(&total).Error
	return total, err
}

// GetDailyStats buckets bytes downloaded by calendar day over the last
// `days` days, keyed "YYYY-MM-DD".
func (sm *StatsManager) GetDailyStats(days int) (map[string]int64, error) {
	type row struct {
		Day   string
		Bytes int64
	}
	var rows []row
	since := time.Now().AddDate(0, 0, -days)
	err := sm.store.db.Model(&CompletedJob{}).
		Select("strftime('%Y-%m-%d', finished_at) as day, COALESCE(SUM(bytes), 0) as bytes").
		Where("finished_at >= ?", since).
		Group("day").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Day] = r.Bytes
	}
	return out, nil
}

// GetDiskUsage reports disk usage for the configured default download
// directory: on Windows, the drive holding it; where the path has no
// volume name (Unix-like systems), the root filesystem "/". Returns
// the zero value on any error (unresolvable path, missing volume)
// rather than failing.
func (sm *StatsManager) GetDiskUsage() DiskUsageInfo {
	if sm.downloadPathFn == nil {
		return DiskUsageInfo{}
	}
	downloadPath, err := sm.downloadPathFn()
	if err != nil {
		return DiskUsageInfo{}
	}

	volumePath := filepath.VolumeName(downloadPath)
	if volumePath == "" {
		volumePath = "/"
	} else {
		volumePath += string(filepath.Separator)
	}

	usage, err := disk.Usage(volumePath)
	if err != nil {
		return DiskUsageInfo{}
	}

	const bytesPerGB = 1024 * 1024 * 1024
	return DiskUsageInfo{
		UsedGB:  float64(usage.Used) / bytesPerGB,
		FreeGB:  float64(usage.Free) / bytesPerGB,
		TotalGB: float64(usage.Total) / bytesPerGB,
		Percent: usage.UsedPercent,
	}
}

// GetSummary assembles the full analytics payload for the host.
func (sm *StatsManager) GetSummary() Summary {
	lifetime, _ := sm.GetLifetimeBytes()
	totalFiles, _ := sm.GetTotalFiles()
	daily, _ := sm.GetDailyStats(7)
	return Summary{
		TotalBytes:   lifetime,
		TotalFiles:   totalFiles,
		DailyHistory: daily,
		DiskUsage:    sm.GetDiskUsage(),
	}
}
