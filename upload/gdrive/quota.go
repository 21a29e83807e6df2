package gdrive

import (
	"fmt"

	"github.com/docker/go-units"
	"google.golang.org/api/drive/v3"
)

// checkFreeSpace fails when a file of size bytes cannot be stored in the drive described by about.
// Zero limits are treated as unlimited.
func checkFreeSpace(about *drive.About, size int64) error {
	if about.MaxUploadSize > 0 && about.MaxUploadSize < size {
		return fmt.Errorf("file to upload (%s) is bigger than the max upload size (%s)",
			units.HumanSize(float64(size)), units.HumanSize(float64(about.MaxUploadSize)))
	}

	quota := about.StorageQuota
	if quota == nil || quota.Limit <= 0 {
		return nil
	}

	remaining := quota.Limit - quota.Usage
	if remaining < size {
		return fmt.Errorf("file to upload (%s) is bigger than the free space remaining (%s). Limit: %s, usage: %s total, %s of which is in Drive",
			units.HumanSize(float64(size)),
			units.HumanSize(float64(remaining)),
			units.HumanSize(float64(quota.Limit)),
			units.HumanSize(float64(quota.Usage)),
			units.HumanSize(float64(quota.UsageInDrive)))
	}
	return nil
}
