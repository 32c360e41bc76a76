//go:build !linux && !darwin

package diskusage

import (
	"os"
	"time"
)

func accessTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
