//go:build nofused
// +build nofused

package kernels

// IsAvailable reports whether the fused kernels are compiled in. Builds with
// the nofused tag exercise the composed fallback paths.
func IsAvailable() bool {
	return false
}
