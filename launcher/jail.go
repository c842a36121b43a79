package launcher

import (
	"io"
	"os"
	"strconv"
	"syscall"

	sberrors "minibox/errors"
	"minibox/linux"
	"minibox/policy"
)

// ReadPolicyFromEnv opens the policy pipe fd named by PolicyFDEnv, reads
// the (size, bytes) handshake, and unmarshals the Policy. This is the
// child-side counterpart to Launcher.RunWithPipes's write.
func ReadPolicyFromEnv() (*policy.Policy, error) {
	fdStr := os.Getenv(PolicyFDEnv)
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, sberrors.New(sberrors.ErrInitFailure, "read_policy", "missing or malformed "+PolicyFDEnv)
	}

	f := os.NewFile(uintptr(fd), "policy-pipe")
	defer f.Close()

	var sizeBuf [8]byte
	if _, err := io.ReadFull(f, sizeBuf[:]); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrInitFailure, "read_policy")
	}
	var size uint64
	for i := 0; i < 8; i++ {
		size |= uint64(sizeBuf[i]) << (8 * i)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrInitFailure, "read_policy")
	}

	p, err := policy.Unmarshal(buf)
	if err != nil {
		return nil, err
	}

	// The wire format only carries the MetaFile presence bit; the sink
	// itself rides along as a separately inherited fd (see RunWithPipes).
	if p.Flags.MetaFile {
		if metaFdStr := os.Getenv(MetaFDEnv); metaFdStr != "" {
			metaFD, err := strconv.Atoi(metaFdStr)
			if err != nil {
				return nil, sberrors.New(sberrors.ErrInitFailure, "read_policy", "malformed "+MetaFDEnv)
			}
			p.MetaSink = os.NewFile(uintptr(metaFD), "meta-sink")
		}
	}

	return p, nil
}

// EnterJail runs the fixed §4.3–§4.6 sequence in the child: namespaces,
// chroot + bind mounts, optional tmpfs, proc remount, then privilege drop
// and seccomp installation ordered by no_new_privs, then resource limits.
// Any failure here is fatal — the caller must _exit rather than return
// control to code that might run under a half-applied jail.
func EnterJail(p *policy.Policy) error {
	if p.Flags.VfsNS {
		if err := linux.UnshareMountNamespace(); err != nil {
			return sberrors.WrapSyscall(err, "enter_jail", "unshare(CLONE_NEWNS)")
		}
	}
	if p.Flags.NetNS {
		if err := linux.UnshareNetNamespace(); err != nil {
			return sberrors.WrapSyscall(err, "enter_jail", "unshare(CLONE_NEWNET)")
		}
	}

	if p.Flags.Chroot {
		if err := linux.ApplyBindings(p); err != nil {
			return err
		}
		if err := linux.EnterChroot(p.ChrootDir, p.ChdirInJail); err != nil {
			return err
		}
	}

	if p.Flags.Chroot && p.Flags.MountTmp {
		if err := linux.MountTmp(); err != nil {
			return err
		}
	}

	if p.Flags.ReadonlyRemount {
		if err := linux.RemountProcReadonly(); err != nil {
			return err
		}
	}

	if err := dropPrivilegesAndSeccomp(p); err != nil {
		return err
	}

	return linux.ApplyLimits(p)
}

// dropPrivilegesAndSeccomp ties §4.4 and §4.5 together per the ordering
// rule: when no_new_privs is set, drop identity and capabilities before
// installing the filter (the filter need not allow identity syscalls);
// otherwise install the filter first, and the filter program itself must
// allow setgroups/setresgid/setresuid/capget/capset/prctl.
func dropPrivilegesAndSeccomp(p *policy.Policy) error {
	if p.Flags.Caps {
		if err := linux.PrepareCapsForIdentityChange(); err != nil {
			return err
		}
	}

	dropIdentityAndCaps := func() error {
		if err := linux.DropIdentity(p); err != nil {
			return sberrors.ErrPartialPrivilegeDrop
		}
		if p.Flags.Caps {
			if err := linux.DropCaps(p.Caps); err != nil {
				return sberrors.ErrPartialPrivilegeDrop
			}
		}
		return nil
	}

	if p.Flags.NoNewPrivs {
		if err := dropIdentityAndCaps(); err != nil {
			return err
		}
		return linux.InstallSeccomp(p)
	}

	if err := linux.InstallSeccomp(p); err != nil {
		return err
	}
	return dropIdentityAndCaps()
}

// FinishChildSetup closes the unused ends of any stdio pipes and dup2s the
// child's ends over the conventional fds, then calls setsid.
func FinishChildSetup(stdin, stdout, stderr *os.File) error {
	if stdin != nil {
		if err := syscall.Dup2(int(stdin.Fd()), 0); err != nil {
			return sberrors.WrapSyscall(err, "finish_child_setup", "dup2(stdin)")
		}
	}
	if stdout != nil {
		if err := syscall.Dup2(int(stdout.Fd()), 1); err != nil {
			return sberrors.WrapSyscall(err, "finish_child_setup", "dup2(stdout)")
		}
	}
	if stderr != nil {
		if err := syscall.Dup2(int(stderr.Fd()), 2); err != nil {
			return sberrors.WrapSyscall(err, "finish_child_setup", "dup2(stderr)")
		}
	}
	if _, err := syscall.Setsid(); err != nil {
		// Already a session leader is not fatal.
		if err != syscall.EPERM {
			return sberrors.WrapSyscall(err, "finish_child_setup", "setsid")
		}
	}
	return nil
}
