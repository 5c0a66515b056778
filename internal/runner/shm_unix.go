//go:build unix

package runner

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sysvRegion is a SysV shared memory segment: key = private, size =
// len, perms = 0o666, matching spec.md §4.2.
type sysvRegion struct {
	id    int
	data  []byte
	owner bool
}

// NewSharedRegion allocates a new SysV shared memory segment of size bytes
// and attaches it into this process's address space. The caller owns the
// segment: its Close removes it once detached.
func NewSharedRegion(size int) (SharedRegion, error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o666)
	if err != nil {
		return nil, fmt.Errorf("shmget: %w", err)
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat: %w", err)
	}

	return &sysvRegion{id: id, data: data, owner: true}, nil
}

// AttachSharedRegion joins an already-existing segment (one created by
// NewSharedRegion in another process, e.g. a supervisor sharing its
// virgin and crash bitmaps with a re-exec'd worker). The joining process
// does not own the segment: its Close only detaches, leaving removal to
// the owner.
func AttachSharedRegion(id, size int) (SharedRegion, error) {
	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat(%d): %w", id, err)
	}
	return &sysvRegion{id: id, data: data, owner: false}, nil
}

func (r *sysvRegion) Bytes() []byte { return r.data }

func (r *sysvRegion) EnvValue() string { return fmt.Sprintf("%d", r.id) }

// Close detaches the segment from this process; only the owner also marks
// it for removal, which the kernel finalizes once the last attached
// process detaches.
func (r *sysvRegion) Close() error {
	if err := unix.SysvShmDetach(r.data); err != nil {
		return fmt.Errorf("shmdt: %w", err)
	}
	if !r.owner {
		return nil
	}
	if _, err := unix.SysvShmCtl(r.id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shmctl(IPC_RMID): %w", err)
	}
	return nil
}
