package linux

import (
	"syscall"

	sberrors "minibox/errors"
	"minibox/policy"
)

const (
	PR_SET_KEEPCAPS  = 8
	PR_SET_SECUREBITS = 28

	// SECURE_ALL_BITS and SECURE_ALL_LOCKS compose the securebits value that
	// pins the keep-caps-across-setuid behavior for the remainder of the
	// process's life, so a later syscall cannot silently relax it.
	SECURE_ALL_BITS  = 0x15
	SECURE_ALL_LOCKS = SECURE_ALL_BITS << 1
)

// DropIdentity performs the uid/gid transition described by a Policy:
// supplementary-group handling, then setresgid, then setresuid. Any failure
// here means the process must not proceed under a half-applied identity —
// the caller is expected to abort on error rather than retry or continue.
func DropIdentity(p *policy.Policy) error {
	if p.Flags.InheritGroups {
		if err := initgroups(p.User, p.UserGID); err != nil {
			return sberrors.WrapSyscall(err, "drop_identity", "initgroups")
		}
	} else if p.Flags.UID || p.Flags.GID {
		if err := syscall.Setgroups(nil); err != nil {
			return sberrors.WrapSyscall(err, "drop_identity", "setgroups")
		}
	}

	if p.Flags.GID {
		if err := setresgid(p.GID, p.GID, p.GID); err != nil {
			return sberrors.WrapSyscall(err, "drop_identity", "setresgid")
		}
	}

	if p.Flags.UID {
		if err := setresuid(p.UID, p.UID, p.UID); err != nil {
			return sberrors.WrapSyscall(err, "drop_identity", "setresuid")
		}
	}

	return nil
}

// PrepareCapsForIdentityChange arms PR_SET_KEEPCAPS and locks securebits
// before a uid transition, so that the process can still reduce its
// capability sets after setuid has otherwise zeroed them.
func PrepareCapsForIdentityChange() error {
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_KEEPCAPS, 1, 0); errno != 0 {
		return sberrors.WrapSyscall(errno, "prepare_caps", "prctl(PR_SET_KEEPCAPS)")
	}
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_SECUREBITS, uintptr(SECURE_ALL_BITS|SECURE_ALL_LOCKS), 0); errno != 0 {
		return sberrors.WrapSyscall(errno, "prepare_caps", "prctl(PR_SET_SECUREBITS)")
	}
	return nil
}

// DropCaps reduces the process's capability sets to keep, against the
// kernel-reported cap_last_cap. CAP_SETPCAP is retained through the bounding
// set drop (it's required to drop bounding bits at all) and stripped
// afterward unless the caller asked to keep it.
func DropCaps(keep uint64) error {
	effective, permitted, inheritable := uint64(0), uint64(0), uint64(0)

	working := keep | (1 << uint(CAP_SETPCAP))
	lastCap := getLastCap()
	for cap := 0; cap <= lastCap; cap++ {
		if working&(1<<uint(cap)) == 0 {
			continue
		}
		effective |= 1 << uint(cap)
		permitted |= 1 << uint(cap)
		inheritable |= 1 << uint(cap)
	}

	if err := SetCaps(effective, permitted, inheritable); err != nil {
		return err
	}

	if err := DropBoundingSet(keep); err != nil {
		return err
	}

	if keep&(1<<uint(CAP_SETPCAP)) == 0 {
		effective &^= 1 << uint(CAP_SETPCAP)
		permitted &^= 1 << uint(CAP_SETPCAP)
		inheritable &^= 1 << uint(CAP_SETPCAP)
		if err := SetCaps(effective, permitted, inheritable); err != nil {
			return err
		}
	}

	return nil
}

func setresuid(ruid, euid, suid uint32) error {
	_, _, errno := syscall.Syscall(syscall.SYS_SETRESUID, uintptr(ruid), uintptr(euid), uintptr(suid))
	if errno != 0 {
		return errno
	}
	return nil
}

func setresgid(rgid, egid, sgid uint32) error {
	_, _, errno := syscall.Syscall(syscall.SYS_SETRESGID, uintptr(rgid), uintptr(egid), uintptr(sgid))
	if errno != 0 {
		return errno
	}
	return nil
}

func initgroups(user string, gid uint32) error {
	// initgroups(3) is a libc convenience over setgroups(2) that reads the
	// supplementary group list for user from NSS; without cgo we read the
	// same information the syscall ultimately needs from /etc/group.
	groups, err := lookupSupplementaryGroups(user, gid)
	if err != nil {
		return err
	}
	return syscall.Setgroups(groups)
}
