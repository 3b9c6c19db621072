package pack

import (
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v4/disk"
)

// freeSpaceFunc is the seam tests use to simulate full disks.
type freeSpaceFunc func(path string) (uint64, error)

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("query disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}

// requiredWithMargin scales total bytes by the safety margin, rounding up.
func requiredWithMargin(totalBytes int64, margin float64) int64 {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return int64(math.Ceil(float64(totalBytes) * margin))
}
