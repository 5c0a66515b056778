//go:build windows

package runner

import "fmt"

// NewSharedRegion is unimplemented on Windows. spec.md §4.2 calls for a
// named file mapping (page read-write) named "<unix-seconds>_<worker-id>";
// this core targets unix CI and only exposes the SharedRegion interface
// shape here so a Windows implementation has a documented slot to fill.
func NewSharedRegion(size int) (SharedRegion, error) {
	return nil, fmt.Errorf("runner: windows shared memory not implemented")
}

// AttachSharedRegion is unimplemented on Windows; see NewSharedRegion.
func AttachSharedRegion(id, size int) (SharedRegion, error) {
	return nil, fmt.Errorf("runner: windows shared memory not implemented")
}
