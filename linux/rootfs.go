package linux

import (
	"path/filepath"
	"syscall"

	sberrors "minibox/errors"
	"minibox/policy"
)

// Mount flags used by the filesystem layerer.
const (
	MS_BIND    = syscall.MS_BIND
	MS_REMOUNT = syscall.MS_REMOUNT
	MS_RDONLY  = syscall.MS_RDONLY
	MS_NOSUID  = syscall.MS_NOSUID
	MS_NODEV   = syscall.MS_NODEV
	MS_NOEXEC  = syscall.MS_NOEXEC
)

// ApplyBindings bind-mounts every binding in p into chrootdir, in insertion
// order, remounting read-only where the binding isn't writeable. Any
// mount failure aborts the whole sequence — a partially-bound jail must
// not be entered.
func ApplyBindings(p *policy.Policy) error {
	for _, b := range p.Bindings {
		dest := filepath.Join(p.ChrootDir, b.Dest)

		if err := syscall.Mount(b.Src, dest, "", MS_BIND, ""); err != nil {
			return sberrors.WrapSyscall(err, "bind_mount", "mount")
		}
		if !b.Writeable {
			if err := syscall.Mount("", dest, "", MS_BIND|MS_REMOUNT|MS_RDONLY, ""); err != nil {
				return sberrors.WrapSyscall(err, "bind_mount_readonly", "mount")
			}
		}
	}
	return nil
}

// EnterChroot chroots into chrootdir and changes to chdirInJail (or / if
// unset). Must run after ApplyBindings so the bound paths are visible
// inside the new root.
func EnterChroot(chrootdir, chdirInJail string) error {
	if err := syscall.Chroot(chrootdir); err != nil {
		return sberrors.WrapSyscall(err, "enter_chroot", "chroot")
	}
	dir := "/"
	if chdirInJail != "" {
		dir = chdirInJail
	}
	if err := syscall.Chdir(dir); err != nil {
		return sberrors.WrapSyscall(err, "enter_chroot", "chdir")
	}
	return nil
}

// MountTmp mounts a tmpfs at /tmp inside the (already entered) chroot.
func MountTmp() error {
	if err := syscall.Mount("none", "/tmp", "tmpfs", 0, "size=128M,mode=777"); err != nil {
		return sberrors.WrapSyscall(err, "mount_tmp", "mount")
	}
	return nil
}

// RemountProcReadonly unmounts the inherited /proc (and, best-effort,
// /proc/sys/fs/binfmt_misc) and mounts a fresh, restricted proc in its
// place. The old /proc must be unmounted rather than remounted: even in a
// fresh mount namespace the child still shares the parent's /proc mount
// object, so a remount would affect the host's view too.
func RemountProcReadonly() error {
	syscall.Unmount("/proc/sys/fs/binfmt_misc", syscall.MNT_DETACH) // best effort

	if err := syscall.Unmount("/proc", syscall.MNT_DETACH); err != nil {
		return sberrors.WrapSyscall(err, "remount_proc", "umount")
	}
	if err := syscall.Mount("proc", "/proc", "proc", MS_NODEV|MS_NOEXEC|MS_NOSUID|MS_RDONLY, ""); err != nil {
		return sberrors.WrapSyscall(err, "remount_proc", "mount")
	}
	return nil
}
