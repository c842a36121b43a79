package policy

import (
	"io"
	"strconv"
	"strings"

	sberrors "minibox/errors"
)

// CLIFlags carries the already-parsed, already-resolved values of the CLI
// surface — binding triples split and validated, usernames resolved to
// numeric ids by the caller — ready to fold into a Policy. Resolving
// usernames/group names against NSS is a CLI-ambient concern and happens
// before this adapter runs; FromFlags itself only knows numbers and paths.
type CLIFlags struct {
	Bindings []BindingSpec

	ChrootDir   string
	ChdirInJail string

	HasUID bool
	UID    uint32
	HasGID bool
	GID    uint32

	InheritGroups bool
	User          string
	UserGID       uint32

	HasCaps bool
	Caps    uint64

	LegacySeccomp bool
	Filter        *FilterProgram
	LogSeccomp    bool

	NoNewPrivs      bool
	PidsNS          bool
	ReadonlyRemount bool
	VfsNS           bool
	NetNS           bool
	DisablePtrace   bool
	MountTmp        bool

	HasStackLimit  bool
	StackLimit     uint64
	HasTimeLimit   bool
	TimeLimitMs    uint64
	HasOutputLimit bool
	OutputLimit    uint64
	HasMemoryLimit bool
	MemoryLimit    uint64

	MetaSink io.Writer
}

// BindingSpec is one parsed "-b src,dest[,w]" directive.
type BindingSpec struct {
	Src       string
	Dest      string
	Writeable bool
}

// ParseBindingSpec splits a "-b" argument of the form "src,dest[,w]".
func ParseBindingSpec(raw string) (BindingSpec, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return BindingSpec{}, sberrors.New(sberrors.ErrBadArgument, "parse_binding", "expected src,dest[,w]")
	}
	spec := BindingSpec{Src: parts[0], Dest: parts[1]}
	if len(parts) == 3 {
		if parts[2] != "w" {
			return BindingSpec{}, sberrors.New(sberrors.ErrBadArgument, "parse_binding", "third field must be \"w\"")
		}
		spec.Writeable = true
	}
	return spec, nil
}

// ParseCapMask parses a "-c" capability mask: decimal, or 0x-prefixed hex.
func ParseCapMask(raw string) (uint64, error) {
	base := 10
	s := raw
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		base = 16
		s = raw[2:]
	}
	mask, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, sberrors.Wrap(err, sberrors.ErrBadArgument, "parse_cap_mask")
	}
	return mask, nil
}

// FromFlags builds a Policy from a resolved CLI flag set, applying the
// mutators in the same implication order the builder methods document
// (chroot before bindings, pid-namespace before the rest) so the resulting
// Flags carry the same implied bits a hand-built Policy would.
func FromFlags(f CLIFlags) (*Policy, error) {
	p := New()

	if f.ChrootDir != "" {
		p.SetChroot(f.ChrootDir)
	}
	if f.ChdirInJail != "" {
		p.SetChdir(f.ChdirInJail)
	}
	for _, b := range f.Bindings {
		p.AddBinding(b.Src, b.Dest, b.Writeable)
	}

	switch {
	case f.HasUID && f.HasGID:
		p.SetIdentity(f.UID, f.GID)
	case f.HasUID:
		p.UID = f.UID
		p.Flags.UID = true
	case f.HasGID:
		p.GID = f.GID
		p.Flags.GID = true
	}
	if f.InheritGroups {
		p.SetInheritGroups(f.User, f.UserGID)
	}
	if f.HasCaps {
		p.SetCaps(f.Caps)
	}

	if f.PidsNS {
		p.EnablePIDNamespace()
	}
	if f.VfsNS {
		p.Flags.VfsNS = true
	}
	if f.NetNS {
		p.EnableNetNamespace()
	}
	if f.MountTmp {
		p.EnableMountTmp()
	}
	if f.ReadonlyRemount {
		p.Flags.ReadonlyRemount = true
	}
	if f.DisablePtrace {
		p.EnableDisablePtrace()
	}
	if f.NoNewPrivs {
		p.EnableNoNewPrivs()
	}

	if f.Filter != nil {
		p.SetSeccompFilter(f.Filter, f.LogSeccomp)
	}
	if f.LegacySeccomp {
		p.EnableLegacySeccomp()
	}

	if f.HasStackLimit {
		p.SetStackLimit(f.StackLimit)
	}
	if f.HasTimeLimit {
		p.SetTimeLimit(f.TimeLimitMs)
	}
	if f.HasOutputLimit {
		p.SetOutputLimit(f.OutputLimit)
	}
	if f.HasMemoryLimit {
		p.SetMemoryLimit(f.MemoryLimit)
	}

	if f.MetaSink != nil {
		p.SetMetaSink(f.MetaSink)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
