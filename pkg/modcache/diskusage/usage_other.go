//go:build !unix

package diskusage

// Default returns the apparent-size Provider; allocated sizes are not
// available on this platform.
func Default() Provider {
	return Apparent
}
