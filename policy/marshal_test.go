package policy

import (
	"bytes"
	"testing"
)

func buildFullPolicy() *Policy {
	p := New()
	p.SetIdentity(1000, 1000)
	p.SetInheritGroups("builder", 100)
	p.SetCaps(1 << 21)
	p.SetChroot("/tmp/jail")
	p.SetChdir("/work")
	p.AddBinding("/bin", "/bin", false)
	p.AddBinding("/lib", "/lib", true)
	p.SetSeccompFilter(&FilterProgram{Instructions: bytes.Repeat([]byte{0x01}, 8*3)}, true)
	p.SetStackLimit(8 << 20)
	p.SetMemoryLimit(64 << 20)
	p.SetOutputLimit(1024)
	p.SetTimeLimit(1000)
	p.InitPID = 4242
	return p
}

func TestRoundTrip(t *testing.T) {
	p := buildFullPolicy()

	buf := make([]byte, Size(p))
	total, truncated := Marshal(p, buf)
	if truncated {
		t.Fatalf("Marshal truncated with exact-size buffer")
	}
	if total != Size(p) {
		t.Fatalf("total = %d, want %d", total, Size(p))
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.Flags != p.Flags {
		t.Errorf("Flags = %+v, want %+v", got.Flags, p.Flags)
	}
	if got.UID != p.UID || got.GID != p.GID || got.UserGID != p.UserGID {
		t.Errorf("identity mismatch: got uid=%d gid=%d usergid=%d", got.UID, got.GID, got.UserGID)
	}
	if got.Caps != p.Caps {
		t.Errorf("Caps = %#x, want %#x", got.Caps, p.Caps)
	}
	if got.User != p.User || got.ChrootDir != p.ChrootDir || got.ChdirInJail != p.ChdirInJail {
		t.Errorf("string fields mismatch: %+v", got)
	}
	if !bytes.Equal(got.Filter.Instructions, p.Filter.Instructions) {
		t.Errorf("filter instructions mismatch")
	}
	if len(got.Bindings) != len(p.Bindings) {
		t.Fatalf("binding count = %d, want %d", len(got.Bindings), len(p.Bindings))
	}
	for i := range p.Bindings {
		if got.Bindings[i] != p.Bindings[i] {
			t.Errorf("binding[%d] = %+v, want %+v", i, got.Bindings[i], p.Bindings[i])
		}
	}
	if got.InitPID != p.InitPID {
		t.Errorf("InitPID = %d, want %d", got.InitPID, p.InitPID)
	}
}

func TestSizeAgreement(t *testing.T) {
	p := buildFullPolicy()
	size := Size(p)

	buf := make([]byte, size)
	total, truncated := Marshal(p, buf)
	if truncated {
		t.Error("Marshal(P, buf, size(P)) should not report truncation")
	}
	if total != size {
		t.Errorf("total = %d, want %d", total, size)
	}

	shortBuf := make([]byte, size-1)
	total, truncated = Marshal(p, shortBuf)
	if !truncated {
		t.Error("Marshal(P, buf, size(P)-1) should report truncation")
	}
	if total != size {
		t.Errorf("truncated total = %d, want %d", total, size)
	}
}

func TestUnmarshal_TruncatedFixedRecord(t *testing.T) {
	_, err := Unmarshal(make([]byte, fixedRecordSize-1))
	if err == nil {
		t.Fatal("expected error for truncated fixed record")
	}
}

func TestUnmarshal_MissingNUL(t *testing.T) {
	p := New()
	p.SetChroot("/tmp/jail")
	buf := make([]byte, Size(p))
	Marshal(p, buf)

	// Corrupt the NUL terminator of the chrootdir string by overwriting it
	// with a non-NUL byte, leaving no terminator before the buffer ends.
	buf[len(buf)-1] = 'x'

	_, err := Unmarshal(buf)
	if err == nil {
		t.Fatal("expected error for missing NUL terminator")
	}
}

func TestUnmarshal_InstructionCountExceeded(t *testing.T) {
	p := New()
	p.Flags.SeccompFilter = true
	buf := make([]byte, fixedRecordSize)
	total, _ := Marshal(&Policy{Flags: Flags{SeccompFilter: true}}, buf)
	_ = total

	// Build a buffer by hand claiming a huge filter_len but no bytes behind it.
	full := Size(p)
	raw := make([]byte, full)
	Marshal(p, raw)
	// filter_len occupies bytes [32:36) of the fixed record.
	raw[32] = 0xff
	raw[33] = 0xff
	raw[34] = 0xff
	raw[35] = 0x7f

	_, err := Unmarshal(raw)
	if err == nil {
		t.Fatal("expected error for instruction count exceeding buffer capacity")
	}
}

func TestMarshal_EmptyPolicy(t *testing.T) {
	p := New()
	buf := make([]byte, Size(p))
	total, truncated := Marshal(p, buf)
	if truncated {
		t.Fatal("empty policy marshal should not truncate")
	}
	if total != fixedRecordSize {
		t.Errorf("total = %d, want %d (no optional sections)", total, fixedRecordSize)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.User != "" || got.ChrootDir != "" || got.ChdirInJail != "" {
		t.Errorf("expected empty optional strings, got %+v", got)
	}
	if len(got.Bindings) != 0 {
		t.Errorf("expected no bindings, got %d", len(got.Bindings))
	}
}
