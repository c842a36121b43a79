package policy

import "testing"

func TestParseBindingSpec(t *testing.T) {
	tests := []struct {
		raw     string
		want    BindingSpec
		wantErr bool
	}{
		{"/host/bin,/bin", BindingSpec{Src: "/host/bin", Dest: "/bin"}, false},
		{"/host/bin,/bin,w", BindingSpec{Src: "/host/bin", Dest: "/bin", Writeable: true}, false},
		{"/host/bin,/bin,x", BindingSpec{}, true},
		{"/host/bin", BindingSpec{}, true},
		{"a,b,c,d", BindingSpec{}, true},
	}

	for _, tc := range tests {
		got, err := ParseBindingSpec(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseBindingSpec(%q): expected error, got none", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBindingSpec(%q): unexpected error: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseBindingSpec(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestParseCapMask(t *testing.T) {
	tests := map[string]uint64{
		"0":      0,
		"7":      7,
		"0x15":   0x15,
		"0X1F":   0x1f,
		"184467440737095": 184467440737095,
	}
	for raw, want := range tests {
		got, err := ParseCapMask(raw)
		if err != nil {
			t.Errorf("ParseCapMask(%q): unexpected error: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("ParseCapMask(%q) = %d, want %d", raw, got, want)
		}
	}

	if _, err := ParseCapMask("not-a-number"); err == nil {
		t.Error("expected error for malformed cap mask")
	}
}

func TestFromFlags_BuildsPolicyWithImpliedFlags(t *testing.T) {
	p, err := FromFlags(CLIFlags{
		ChrootDir: "/jail",
		Bindings: []BindingSpec{
			{Src: "/bin", Dest: "/bin"},
		},
		PidsNS:   true,
		HasUID:   true,
		UID:      1000,
		HasCaps:  true,
		Caps:     0x3,
		NoNewPrivs: true,
	})
	if err != nil {
		t.Fatalf("FromFlags failed: %v", err)
	}

	if !p.Flags.Chroot || !p.Flags.VfsNS {
		t.Error("expected Chroot and implied VfsNS")
	}
	if !p.Flags.PidsNS || !p.Flags.ReadonlyRemount {
		t.Error("expected PidsNS to imply ReadonlyRemount")
	}
	if !p.Flags.UID || p.UID != 1000 {
		t.Error("expected UID flag and value set")
	}
	if p.Flags.GID {
		t.Error("GID should not be set when only UID was requested")
	}
	if !p.Flags.Caps || p.Caps != 0x3 {
		t.Error("expected Caps flag and mask set")
	}
	if len(p.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(p.Bindings))
	}
}

func TestFromFlags_RejectsChdirWithoutChroot(t *testing.T) {
	_, err := FromFlags(CLIFlags{ChdirInJail: "/somewhere"})
	if err == nil {
		t.Error("expected ErrChdirWithoutChroot")
	}
}
