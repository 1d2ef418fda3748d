//go:build !unix && !windows

package engine

// checkFreeSpace is a no-op fallback for platforms without a supported
// free-space syscall (anything that is neither unix nor windows),
// mirroring the teacher's diskspace_other.go. Narrowed to !unix instead of
// the teacher's literal !(linux||darwin||windows): that tag overlaps with
// diskspace_bsd.go's unix&&!linux&&!darwin for every other unix target and
// would double-define checkFreeSpace there.
func checkFreeSpace(dir string, minBytes int64) error {
	return nil
}
