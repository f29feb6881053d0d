// Package shm allocates and attaches to the shared-memory segment the
// thread registry and control block live in, so an external
// controller process can map the same region without a socket.
package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Segment is a memory-mapped, memfd-backed region shared with an
// external controller process by passing its file descriptor across a
// unix socket or inheriting it across fork/exec.
type Segment struct {
	fd   int
	data []byte
}

// Create allocates a new anonymous shared-memory segment of the given
// size via memfd_create, sized with ftruncate, and maps it read/write.
// Grounded on the teacher's raw SYS_MMAP syscall plumbing in
// internal/queue/runner.go, generalized to golang.org/x/sys/unix.
func Create(name string, size int) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate %q to %d: %w", name, size, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	return &Segment{fd: fd, data: data}, nil
}

// Open attaches to an existing segment via a file descriptor obtained
// from another process (e.g. SCM_RIGHTS over a unix socket).
func Open(fd int, size int) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap fd %d: %w", fd, err)
	}
	return &Segment{fd: fd, data: data}, nil
}

// Bytes returns the mapped region. The returned slice aliases shared
// memory; callers must only access fields through the atomic
// accessors in internal/control and internal/registry.
func (s *Segment) Bytes() []byte {
	return s.data
}

// FD returns the underlying memfd, for handing off to an attaching
// controller process.
func (s *Segment) FD() int {
	return s.fd
}

// Close unmaps the region and closes the descriptor.
func (s *Segment) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("shm: munmap: %w", err)
		}
		s.data = nil
	}
	return unix.Close(s.fd)
}
