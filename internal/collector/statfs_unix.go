//go:build linux || darwin

package collector

import "golang.org/x/sys/unix"

const statfsSupported = true

func statfs(path string) (fsUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fsUsage{}, err
	}
	bsize := uint64(st.Bsize)
	return fsUsage{
		size:  st.Blocks * bsize,
		free:  st.Bfree * bsize,
		avail: st.Bavail * bsize,
	}, nil
}
