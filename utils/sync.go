// Package utils provides utility functions for the runtime.
package utils

import (
	"fmt"
	"os"
	"syscall"
)

// SyncPipe is a one-shot pipe used to hand a payload (here, the marshalled
// policy) from this process to a forked child. The read end is passed down
// to the child via ExtraFiles; this process keeps and writes the write end.
type SyncPipe struct {
	readEnd  *os.File
	writeEnd *os.File
}

// NewSyncPipe creates a new synchronization pipe.
func NewSyncPipe() (*SyncPipe, error) {
	fds := make([]int, 2)
	if err := syscall.Pipe(fds); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &SyncPipe{
		readEnd:  os.NewFile(uintptr(fds[0]), "syncpipe-read"),
		writeEnd: os.NewFile(uintptr(fds[1]), "syncpipe-write"),
	}, nil
}

// ReadEnd returns the read end, destined for the child's ExtraFiles.
func (s *SyncPipe) ReadEnd() *os.File {
	return s.readEnd
}

// WriteEnd returns the write end, used by this process to send the payload.
func (s *SyncPipe) WriteEnd() *os.File {
	return s.writeEnd
}

// Close closes both ends of the pipe. Safe to call after either end has
// already been handed off to a child process or closed individually.
func (s *SyncPipe) Close() {
	if s.readEnd != nil {
		s.readEnd.Close()
	}
	if s.writeEnd != nil {
		s.writeEnd.Close()
	}
}
