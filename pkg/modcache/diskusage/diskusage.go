// Package diskusage reports how much space cache files actually occupy and
// when they were last read. Eviction and size bookkeeping go through
// Provider so transparent storage compression is accounted for by the
// platform rather than by modcache.
package diskusage

import (
	"os"
	"time"
)

// Provider reports the allocated size of a file.
type Provider interface {
	SizeOnDisk(path string) (int64, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(path string) (int64, error)

// SizeOnDisk calls f(path).
func (f ProviderFunc) SizeOnDisk(path string) (int64, error) {
	return f(path)
}

// Apparent reports the file length. It is used where allocated sizes are
// unavailable and in tests that need exact numbers.
var Apparent Provider = ProviderFunc(func(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
})

// AccessTime returns the last access time of path, falling back to the
// modification time on platforms that do not expose atime.
func AccessTime(path string) (time.Time, error) {
	return accessTime(path)
}
