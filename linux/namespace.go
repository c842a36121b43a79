package linux

import (
	"syscall"

	"minibox/policy"
)

// Namespace clone/unshare flags this engine actually drives. User
// namespaces, UTS, IPC, and cgroup namespaces are out of scope.
const (
	CLONE_NEWNS  = syscall.CLONE_NEWNS
	CLONE_NEWPID = syscall.CLONE_NEWPID
	CLONE_NEWNET = syscall.CLONE_NEWNET
)

// CloneFlags returns the clone(2) flags the launcher must pass when
// spawning the first-generation child: CLONE_NEWPID if pid-namespaced, plus
// SIGCHLD so the parent still receives a child-exit signal.
func CloneFlags(p *policy.Policy) uintptr {
	flags := uintptr(syscall.SIGCHLD)
	if p.Flags.PidsNS {
		flags |= CLONE_NEWPID
	}
	return flags
}

// UnshareMountNamespace detaches the calling process's mount namespace, per
// step 1 of jail entry: vfs_ns must be unshared before any bind mount so
// later mounts don't leak into the host.
func UnshareMountNamespace() error {
	if err := syscall.Unshare(CLONE_NEWNS); err != nil {
		return err
	}
	return nil
}

// UnshareNetNamespace detaches the calling process's network namespace. This
// is the entire network policy surface this engine expresses: isolated or
// shared, nothing in between.
func UnshareNetNamespace() error {
	return syscall.Unshare(CLONE_NEWNET)
}
