package transport

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// diskBuffer is held back below a volume's free space so a download
// never drives the destination volume to zero bytes free.
const diskBuffer = 100 * 1024 * 1024

// checkDiskSpace fails fast when the destination volume cannot hold
// required bytes, before any staging file is created.
func checkDiskSpace(destPath string, required int64) error {
	if required <= 0 {
		return nil
	}
	dir := filepath.Dir(destPath)
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("transport: disk space check: %w", err)
	}
	if int64(usage.Free) < required+diskBuffer {
		return &Error{Kind: ErrFilesystem, Err: fmt.Errorf("disk full: need %d bytes, have %d free", required, usage.Free)}
	}
	return nil
}
