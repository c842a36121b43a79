package linux

import (
	"testing"

	"minibox/policy"
)

func TestDecodeInstructions_SingleRecord(t *testing.T) {
	raw := []byte{0x01, 0x00, 0x0f, 0x0e, 0xff, 0xff, 0xff, 0xff}
	out := decodeInstructions(raw)

	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Code != 1 {
		t.Errorf("Code = %d, want 1", out[0].Code)
	}
	if out[0].Jt != 0x0f {
		t.Errorf("Jt = %#x, want 0x0f", out[0].Jt)
	}
	if out[0].Jf != 0x0e {
		t.Errorf("Jf = %#x, want 0x0e", out[0].Jf)
	}
	if out[0].K != 0xffffffff {
		t.Errorf("K = %#x, want 0xffffffff", out[0].K)
	}
}

func TestDecodeInstructions_MultipleRecords(t *testing.T) {
	raw := make([]byte, 24)
	raw[8] = 0x07
	raw[16] = 0x20

	out := decodeInstructions(raw)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[1].Code != 0x07 {
		t.Errorf("out[1].Code = %d, want 7", out[1].Code)
	}
	if out[2].Code != 0x20 {
		t.Errorf("out[2].Code = %d, want 32", out[2].Code)
	}
}

func TestLoadFilterProgram_RejectsEmptyFilter(t *testing.T) {
	if err := loadFilterProgram(nil); err == nil {
		t.Error("expected error for nil filter")
	}
	if err := loadFilterProgram(&policy.FilterProgram{}); err == nil {
		t.Error("expected error for zero-length instructions, got nil")
	}
}
