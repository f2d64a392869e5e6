//go:build !nofused
// +build !nofused

package kernels

// IsAvailable reports whether the fused kernels are compiled in.
func IsAvailable() bool {
	return true
}
