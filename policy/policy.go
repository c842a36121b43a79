// Package policy defines the sandbox Policy object: an in-memory configuration
// record built by the host through a set of mutators, then handed across the
// fork boundary by the marshaller in this same package.
package policy

import (
	"io"

	sberrors "minibox/errors"
)

// Binding is a bind-mount directive mapping a host path onto a path inside
// the chroot, optionally read-only. Owned by the Policy; append-only during
// build, never mutated afterward.
type Binding struct {
	Src       string
	Dest      string
	Writeable bool
}

// Flags is the fixed set of independent booleans that drive jail entry.
// Turning on PidsNS implies VfsNS and ReadonlyRemount; adding a binding
// implies VfsNS.
type Flags struct {
	UID              bool
	GID              bool
	Caps             bool
	VfsNS            bool
	PidsNS           bool
	NetNS            bool
	Seccomp          bool
	SeccompFilter    bool
	LogSeccomp       bool
	ReadonlyRemount  bool
	InheritGroups    bool
	DisablePtrace    bool
	NoNewPrivs       bool
	Chroot           bool
	Chdir            bool
	MountTmp         bool
	StackLimit       bool
	TimeLimitMs      bool
	OutputLimit      bool
	MemoryLimit      bool
	MetaFile         bool
}

// FilterProgram is an opaque BPF sequence produced by an external compiler.
// Instructions are taken verbatim; this package never inspects their
// encoding beyond the 8-byte-per-instruction length the wire format assumes.
type FilterProgram struct {
	Instructions []byte // Length must be a multiple of 8; at most 65535 instructions.
}

// InstructionCount returns the number of BPF instructions in the program.
func (f *FilterProgram) InstructionCount() int {
	if f == nil {
		return 0
	}
	return len(f.Instructions) / bpfInstructionSize
}

const bpfInstructionSize = 8

// Policy is the configuration record for one sandboxed launch. It is created
// empty, mutated via the builder surface below, consumed by exactly one
// launch, and then must not be reused in the same process: InitPID is
// populated only once, by that launch.
type Policy struct {
	Flags Flags

	UID     uint32
	GID     uint32
	UserGID uint32 // primary gid of User; only consulted when InheritGroups is set.
	Caps    uint64 // bit i set means keep capability i.

	User         string // display name, needed for initgroups.
	ChrootDir    string
	ChdirInJail  string

	Bindings []Binding

	Filter *FilterProgram

	StackLimitBytes  uint64
	TimeLimitMs      uint64
	OutputLimitBytes uint64
	MemoryLimitBytes uint64

	MetaSink io.Writer

	// InitPID is populated after launch; identifies the first-generation child.
	InitPID int
}

// New returns an empty Policy ready for mutation.
func New() *Policy {
	return &Policy{}
}

// SetIdentity records the numeric uid/gid to drop to and enables the
// corresponding flags.
func (p *Policy) SetIdentity(uid, gid uint32) {
	p.UID = uid
	p.GID = gid
	p.Flags.UID = true
	p.Flags.GID = true
}

// SetInheritGroups enables initgroups(user, usergid) during privilege drop
// instead of clearing supplementary groups.
func (p *Policy) SetInheritGroups(user string, usergid uint32) {
	p.User = user
	p.UserGID = usergid
	p.Flags.InheritGroups = true
}

// SetCaps enables capability reduction to the given keep-mask.
func (p *Policy) SetCaps(mask uint64) {
	p.Caps = mask
	p.Flags.Caps = true
}

// SetChroot records the chroot staging directory and enables Chroot + VfsNS:
// chroot requires a private mount namespace to stage bind mounts into.
func (p *Policy) SetChroot(dir string) {
	p.ChrootDir = dir
	p.Flags.Chroot = true
	p.Flags.VfsNS = true
}

// SetChdir records the in-jail working directory. The caller must have
// already called SetChroot; Validate enforces ErrChdirWithoutChroot.
func (p *Policy) SetChdir(dir string) {
	p.ChdirInJail = dir
	p.Flags.Chdir = true
}

// AddBinding appends a bind-mount directive and implies VfsNS, per the
// binding-to-vfs_ns invariant.
func (p *Policy) AddBinding(src, dest string, writeable bool) {
	p.Bindings = append(p.Bindings, Binding{Src: src, Dest: dest, Writeable: writeable})
	p.Flags.VfsNS = true
}

// EnablePIDNamespace turns on pid-namespace isolation, which implies a
// private mount namespace and a fresh read-only /proc remount.
func (p *Policy) EnablePIDNamespace() {
	p.Flags.PidsNS = true
	p.Flags.VfsNS = true
	p.Flags.ReadonlyRemount = true
}

// EnableNetNamespace turns on network-namespace isolation (the only network
// policy this engine expresses: fully isolated or fully shared).
func (p *Policy) EnableNetNamespace() {
	p.Flags.NetNS = true
}

// EnableMountTmp mounts a tmpfs at /tmp inside the chroot.
func (p *Policy) EnableMountTmp() {
	p.Flags.MountTmp = true
}

// EnableDisablePtrace marks the jail-entry process non-dumpable
// (PR_SET_DUMPABLE 0). execve resets the dumpable attribute, so the
// setting does not carry over to the target.
func (p *Policy) EnableDisablePtrace() {
	p.Flags.DisablePtrace = true
}

// EnableNoNewPrivs sets the no_new_privs flag, letting the seccomp filter
// skip identity-changing syscalls since no later exec can regain privilege.
func (p *Policy) EnableNoNewPrivs() {
	p.Flags.NoNewPrivs = true
}

// SetSeccompFilter installs a compiled BPF program, produced externally, to
// be loaded via the seccomp prctl.
func (p *Policy) SetSeccompFilter(prog *FilterProgram, logViolations bool) {
	p.Filter = prog
	p.Flags.SeccompFilter = true
	p.Flags.LogSeccomp = logViolations
}

// EnableLegacySeccomp turns on SECCOMP_MODE_STRICT instead of a filter.
func (p *Policy) EnableLegacySeccomp() {
	p.Flags.Seccomp = true
}

// SetStackLimit arms RLIMIT_STACK.
func (p *Policy) SetStackLimit(bytes uint64) {
	p.StackLimitBytes = bytes
	p.Flags.StackLimit = true
}

// SetMemoryLimit arms RLIMIT_AS.
func (p *Policy) SetMemoryLimit(bytes uint64) {
	p.MemoryLimitBytes = bytes
	p.Flags.MemoryLimit = true
}

// SetOutputLimit arms RLIMIT_FSIZE and simultaneously zeroes RLIMIT_CORE.
func (p *Policy) SetOutputLimit(bytes uint64) {
	p.OutputLimitBytes = bytes
	p.Flags.OutputLimit = true
}

// SetTimeLimit arms both the CPU rlimit and a wall-clock alarm (the init
// supervisor's under a pid namespace, an itimer otherwise), in milliseconds.
func (p *Policy) SetTimeLimit(ms uint64) {
	p.TimeLimitMs = ms
	p.Flags.TimeLimitMs = true
}

// SetMetaSink records the writable stream for post-mortem metadata.
func (p *Policy) SetMetaSink(w io.Writer) {
	p.MetaSink = w
	p.Flags.MetaFile = true
}

// Validate checks the invariants a Policy must satisfy before launch. It does
// not mutate the Policy.
func (p *Policy) Validate() error {
	if p.Flags.Chdir && !p.Flags.Chroot {
		return sberrors.ErrChdirWithoutChroot
	}
	if p.Flags.Chdir && len(p.ChdirInJail) > 0 && p.ChdirInJail[0] != '/' {
		return sberrors.ErrChdirNotAbsolute
	}
	for _, b := range p.Bindings {
		if b.Dest == "" || b.Dest[0] != '/' {
			return sberrors.ErrNonAbsoluteBindDest
		}
	}
	if p.Filter != nil && p.Filter.InstructionCount() > 65535 {
		return sberrors.ErrFilterTooLarge
	}
	return nil
}
