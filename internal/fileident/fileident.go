// Package fileident resolves a best-effort stable identity for a file,
// used to recognize moves and renames between scans. The identity is a
// heuristic only: filesystems may recycle inode numbers.
package fileident

// Identity is a (device, value) pair drawn from filesystem metadata that
// normally survives a rename within the same volume.
type Identity struct {
	Device string
	Value  string
}

// Resolve returns the identity of the file at path. ok is false when the
// platform or filesystem offers no stable identity; callers fall back to
// hash-only matching.
func Resolve(path string) (id Identity, ok bool) {
	return resolve(path)
}
