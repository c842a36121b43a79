package policy

import (
	"bytes"
	"encoding/binary"

	sberrors "minibox/errors"
)

// fixedRecordSize is the length in bytes of the flat fixed-size record:
// flags bitset (8) | uid (4) | gid (4) | usergid (4) | caps (8) | init_pid (4)
// | filter_len (4) | binding_count (4) | presence bits (1).
const fixedRecordSize = 8 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 1

const (
	presenceUser = 1 << iota
	presenceChrootDir
	presenceChdirInJail
)

// flagsToUint64 maps each Flags field to its bit position in the fixed record's
// flags bitset, in the order the field is declared.
func flagsToUint64(f Flags) uint64 {
	var v uint64
	set := func(bit int, b bool) {
		if b {
			v |= 1 << uint(bit)
		}
	}
	set(0, f.UID)
	set(1, f.GID)
	set(2, f.Caps)
	set(3, f.VfsNS)
	set(4, f.PidsNS)
	set(5, f.NetNS)
	set(6, f.Seccomp)
	set(7, f.SeccompFilter)
	set(8, f.LogSeccomp)
	set(9, f.ReadonlyRemount)
	set(10, f.InheritGroups)
	set(11, f.DisablePtrace)
	set(12, f.NoNewPrivs)
	set(13, f.Chroot)
	set(14, f.Chdir)
	set(15, f.MountTmp)
	set(16, f.StackLimit)
	set(17, f.TimeLimitMs)
	set(18, f.OutputLimit)
	set(19, f.MemoryLimit)
	set(20, f.MetaFile)
	return v
}

func uint64ToFlags(v uint64) Flags {
	get := func(bit int) bool { return v&(1<<uint(bit)) != 0 }
	return Flags{
		UID:             get(0),
		GID:             get(1),
		Caps:            get(2),
		VfsNS:           get(3),
		PidsNS:          get(4),
		NetNS:           get(5),
		Seccomp:         get(6),
		SeccompFilter:   get(7),
		LogSeccomp:      get(8),
		ReadonlyRemount: get(9),
		InheritGroups:   get(10),
		DisablePtrace:   get(11),
		NoNewPrivs:      get(12),
		Chroot:          get(13),
		Chdir:           get(14),
		MountTmp:        get(15),
		StackLimit:      get(16),
		TimeLimitMs:     get(17),
		OutputLimit:     get(18),
		MemoryLimit:     get(19),
		MetaFile:        get(20),
	}
}

// Size returns the exact number of bytes Marshal needs to write P, without
// writing anything.
func Size(p *Policy) int {
	n := fixedRecordSize
	if p.User != "" {
		n += len(p.User) + 1
	}
	if p.ChrootDir != "" {
		n += len(p.ChrootDir) + 1
	}
	if p.ChdirInJail != "" {
		n += len(p.ChdirInJail) + 1
	}
	if p.Flags.SeccompFilter && p.Filter != nil {
		n += len(p.Filter.Instructions)
	}
	for _, b := range p.Bindings {
		n += len(b.Src) + 1 + len(b.Dest) + 1 + 4
	}
	return n
}

// Marshal writes P's wire encoding into buf. It returns the total number of
// bytes P requires (matching Size(P)) and whether the write was truncated
// because len(buf) was smaller than that total. On truncation the written
// prefix of buf holds partial output and must not be sent.
func Marshal(p *Policy, buf []byte) (total int, truncated bool) {
	total = Size(p)
	var out bytes.Buffer
	out.Grow(total)

	var presence byte
	if p.User != "" {
		presence |= presenceUser
	}
	if p.ChrootDir != "" {
		presence |= presenceChrootDir
	}
	if p.ChdirInJail != "" {
		presence |= presenceChdirInJail
	}

	filterLen := 0
	if p.Flags.SeccompFilter && p.Filter != nil {
		filterLen = p.Filter.InstructionCount()
	}

	writeU64(&out, flagsToUint64(p.Flags))
	writeU32(&out, p.UID)
	writeU32(&out, p.GID)
	writeU32(&out, p.UserGID)
	writeU64(&out, p.Caps)
	writeU32(&out, uint32(p.InitPID))
	writeU32(&out, uint32(filterLen))
	writeU32(&out, uint32(len(p.Bindings)))
	out.WriteByte(presence)

	if p.User != "" {
		writeCString(&out, p.User)
	}
	if p.ChrootDir != "" {
		writeCString(&out, p.ChrootDir)
	}
	if p.ChdirInJail != "" {
		writeCString(&out, p.ChdirInJail)
	}
	if filterLen > 0 {
		out.Write(p.Filter.Instructions)
	}
	for _, b := range p.Bindings {
		writeCString(&out, b.Src)
		writeCString(&out, b.Dest)
		if b.Writeable {
			writeU32(&out, 1)
		} else {
			writeU32(&out, 0)
		}
	}

	n := copy(buf, out.Bytes())
	return total, n < total
}

// Unmarshal rebuilds a Policy from its wire encoding. The returned Policy
// owns fresh copies of every string and byte slice; no part of it aliases
// buf. Fails with ErrMalformedStream-kind errors on truncation, a missing
// NUL terminator, or an instruction count exceeding what the remaining
// buffer could possibly hold.
func Unmarshal(buf []byte) (*Policy, error) {
	r := &reader{buf: buf}

	if len(buf) < fixedRecordSize {
		return nil, sberrors.ErrTruncatedBuffer
	}

	flagsBits, err := r.readU64()
	if err != nil {
		return nil, err
	}
	uid, err := r.readU32()
	if err != nil {
		return nil, err
	}
	gid, err := r.readU32()
	if err != nil {
		return nil, err
	}
	usergid, err := r.readU32()
	if err != nil {
		return nil, err
	}
	caps, err := r.readU64()
	if err != nil {
		return nil, err
	}
	initPid, err := r.readU32()
	if err != nil {
		return nil, err
	}
	filterLen, err := r.readU32()
	if err != nil {
		return nil, err
	}
	bindingCount, err := r.readU32()
	if err != nil {
		return nil, err
	}
	presence, err := r.readByte()
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Flags:   uint64ToFlags(flagsBits),
		UID:     uid,
		GID:     gid,
		UserGID: usergid,
		Caps:    caps,
		InitPID: int(initPid),
	}

	if presence&presenceUser != 0 {
		s, err := r.readCString()
		if err != nil {
			return nil, err
		}
		p.User = s
	}
	if presence&presenceChrootDir != 0 {
		s, err := r.readCString()
		if err != nil {
			return nil, err
		}
		p.ChrootDir = s
	}
	if presence&presenceChdirInJail != 0 {
		s, err := r.readCString()
		if err != nil {
			return nil, err
		}
		p.ChdirInJail = s
	}

	if p.Flags.SeccompFilter {
		maxInstr := uint32(65535)
		if remaining := uint32(len(r.buf) - r.pos); remaining/bpfInstructionSize < maxInstr {
			maxInstr = remaining / bpfInstructionSize
		}
		if filterLen > maxInstr {
			return nil, sberrors.ErrInstructionCountExceeded
		}
		n := int(filterLen) * bpfInstructionSize
		raw, err := r.readBytes(n)
		if err != nil {
			return nil, err
		}
		instr := make([]byte, n)
		copy(instr, raw)
		p.Filter = &FilterProgram{Instructions: instr}
	}

	p.Bindings = make([]Binding, 0, bindingCount)
	for i := uint32(0); i < bindingCount; i++ {
		src, err := r.readCString()
		if err != nil {
			return nil, err
		}
		dest, err := r.readCString()
		if err != nil {
			return nil, err
		}
		w, err := r.readU32()
		if err != nil {
			return nil, err
		}
		p.Bindings = append(p.Bindings, Binding{Src: src, Dest: dest, Writeable: w != 0})
	}

	return p, nil
}

func writeU64(out *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	out.Write(b[:])
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

func writeCString(out *bytes.Buffer, s string) {
	out.WriteString(s)
	out.WriteByte(0)
}

// reader tracks a read cursor over an unmarshal buffer.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, sberrors.ErrTruncatedBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readCString() (string, error) {
	idx := bytes.IndexByte(r.buf[r.pos:], 0)
	if idx < 0 {
		return "", sberrors.ErrMissingNUL
	}
	s := string(r.buf[r.pos : r.pos+idx])
	r.pos += idx + 1
	return s, nil
}
