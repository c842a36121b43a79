package linux

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"unsafe"

	sberrors "minibox/errors"
	"minibox/policy"
)

// Seccomp prctl constants. The policy compiler that turns textual rules
// into a BPF program is an external collaborator; this package only
// consumes its output.
const (
	SECCOMP_MODE_STRICT = 1
	SECCOMP_MODE_FILTER = 2

	PR_SET_NO_NEW_PRIVS = 38
	PR_SET_SECCOMP      = 22
	PR_SET_DUMPABLE     = 4
)

// sockFprog is the BPF program structure the SET_SECCOMP prctl expects.
type sockFprog struct {
	Len    uint16
	_      [6]byte // padding to match the kernel's struct layout on amd64.
	Filter *sockFilter
}

// sockFilter is a single compiled BPF instruction, 8 bytes wide.
type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

// InstallSeccomp runs the seccomp installer in the fixed order the policy
// requires: no_new_privs, then (optionally) the SIGSYS logging handler,
// then the filter program, then legacy strict mode last — strict mode
// blocks nearly every remaining syscall, so nothing can follow it.
func InstallSeccomp(p *policy.Policy) error {
	if p.Flags.NoNewPrivs {
		if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
			return sberrors.WrapSyscall(errno, "install_seccomp", "prctl(PR_SET_NO_NEW_PRIVS)")
		}
	}

	// disable_ptrace has no compiled-filter syscall rule of its own; it sets
	// PR_SET_DUMPABLE(0) on this jail-entry process only. execve resets the
	// dumpable attribute, so the target itself is not protected by it.
	if p.Flags.DisablePtrace {
		if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_DUMPABLE, 0, 0); errno != 0 {
			return sberrors.WrapSyscall(errno, "install_seccomp", "prctl(PR_SET_DUMPABLE)")
		}
	}

	if p.Flags.SeccompFilter && p.Flags.LogSeccomp {
		installSigsysHandler()
	}

	if p.Flags.SeccompFilter {
		if err := loadFilterProgram(p.Filter); err != nil {
			return err
		}
	}

	if p.Flags.Seccomp {
		if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_SECCOMP, SECCOMP_MODE_STRICT, 0); errno != 0 {
			return sberrors.WrapSyscall(errno, "install_seccomp", "prctl(PR_SET_SECCOMP, MODE_STRICT)")
		}
	}

	return nil
}

// loadFilterProgram loads an externally-compiled, opaque BPF program via
// the seccomp prctl. This package never inspects or builds instructions;
// it only trusts the (length, instructions) pair handed to it.
func loadFilterProgram(filter *policy.FilterProgram) error {
	if filter == nil || len(filter.Instructions) == 0 {
		return sberrors.ErrSeccompInstall
	}

	instructions := decodeInstructions(filter.Instructions)
	prog := sockFprog{
		Len:    uint16(len(instructions)),
		Filter: &instructions[0],
	}

	_, _, errno := syscall.Syscall(syscall.SYS_PRCTL,
		PR_SET_SECCOMP, SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return sberrors.WrapSyscall(errno, "install_seccomp", "prctl(PR_SET_SECCOMP, MODE_FILTER)")
	}
	return nil
}

// decodeInstructions reinterprets the policy's opaque byte slice as
// sockFilter records, 8 bytes each.
func decodeInstructions(raw []byte) []sockFilter {
	n := len(raw) / 8
	out := make([]sockFilter, n)
	for i := 0; i < n; i++ {
		b := raw[i*8 : i*8+8]
		out[i] = sockFilter{
			Code: uint16(b[0]) | uint16(b[1])<<8,
			Jt:   b[2],
			Jf:   b[3],
			K:    uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24,
		}
	}
	return out
}

// installSigsysHandler installs a best-effort SIGSYS logger in the
// jail-enter process itself, before it execs the target. It never sees a
// real seccomp violation from the target: execve resets every signal
// disposition to its default, so this handler is gone the instant the
// target (or the grandchild that execs it) runs. Go's os/signal also
// can't recover siginfo_t.si_syscall without cgo, which would limit any
// violation this handler did observe to a generic line rather than the
// decoded syscall number the original C implementation reports — but that
// limitation is moot given the handler doesn't survive exec at all.
func installSigsysHandler() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGSYS)
	go func() {
		for range sigs {
			slog.Error("illegal syscall")
		}
	}()
}
