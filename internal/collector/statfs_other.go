//go:build !linux && !darwin

package collector

import "errors"

const statfsSupported = false

func statfs(string) (fsUsage, error) {
	return fsUsage{}, errors.New("statfs is not supported on this platform")
}
