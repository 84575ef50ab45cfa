// Disk usage collector: gathers per-mount disk usage information.
// Uses gopsutil for cross-platform disk metrics.
package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// skippedFSTypes are virtual, in-memory and network filesystems. Their
// usage says nothing about local storage.
var skippedFSTypes = fsTypeSet(
	// virtual and kernel
	"devfs", "autofs", "nullfs", "sysfs", "proc", "procfs", "devtmpfs", "cgroup", "cgroup2",
	"overlay", "squashfs", "fuse.snapfuse", "nsfs", "pstore", "debugfs", "tracefs",
	"securityfs", "configfs", "fusectl", "mqueue", "hugetlbfs", "binfmt_misc", "efivarfs", "bpf",
	// in memory
	"tmpfs", "ramfs",
	// network and remote
	"nfs", "nfs4", "cifs", "smbfs", "9p", "afs", "ncpfs", "glusterfs", "lustre", "ceph",
	"gpfs", "pvfs2", "davfs2",
	"fuse.sshfs", "fuse.rclone", "fuse.ceph", "fuse.s3fs", "fuse.gcsfuse", "fuse.blobfuse",
)

func fsTypeSet(types ...string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// isSystemMount returns true for mount points that are macOS system volumes
// or other OS-internal paths that shouldn't be shown to users.
func isSystemMount(mount string) bool {
	systemPrefixes := []string{
		"/System/Volumes/",
		"/private/var/vm",
	}
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(mount, prefix) {
			return true
		}
	}
	return false
}

// DiskCollector collects disk usage metrics per mount point.
type DiskCollector struct {
	logger *zap.Logger
}

// NewDiskCollector creates a new disk collector.
func NewDiskCollector(logger *zap.Logger) *DiskCollector {
	return &DiskCollector{logger: logger}
}

// Name returns the collector identifier.
func (c *DiskCollector) Name() string { return "disk" }

// Collect gathers total, used and free bytes for all local partitions.
// Inaccessible partitions are skipped.
func (c *DiskCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, targetError(ctx, "disk", err)
	}

	var samples []models.Sample
	for _, p := range partitions {
		if skippedFSTypes[p.Fstype] {
			c.logger.Debug("Skipping pseudo/network filesystem",
				zap.String("mount", p.Mountpoint),
				zap.String("fstype", p.Fstype))
			continue
		}
		if isSystemMount(p.Mountpoint) {
			continue
		}

		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			if ctx.Err() != nil {
				return samples, targetError(ctx, "disk", ctx.Err())
			}
			continue
		}
		// Some virtual mounts report 0 size.
		if usage.Total == 0 {
			continue
		}
		labels := map[string]string{"mount": p.Mountpoint, "fstype": p.Fstype}
		samples = append(samples,
			models.Gauge("host_disk_total_bytes", "Partition size in bytes.", float64(usage.Total), labels),
			models.Gauge("host_disk_used_bytes", "Partition bytes in use.", float64(usage.Used), labels),
			models.Gauge("host_disk_free_bytes", "Partition bytes free.", float64(usage.Free), labels),
		)
	}

	return samples, nil
}

// IsAvailable returns true; disk metrics are available on all platforms.
func (c *DiskCollector) IsAvailable() bool { return true }
