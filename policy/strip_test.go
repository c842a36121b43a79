package policy

import "testing"

func TestPreexecStrip(t *testing.T) {
	f := Flags{
		UID: true, GID: true, Caps: true, VfsNS: true, PidsNS: true,
		Chroot: true, ReadonlyRemount: true, StackLimit: true,
		TimeLimitMs: true, OutputLimit: true, MemoryLimit: true, MetaFile: true,
	}

	stripped := PreexecStrip(f)

	if stripped.UID || stripped.GID || stripped.Caps || stripped.PidsNS || stripped.Chroot {
		t.Errorf("PreexecStrip should clear identity/caps/pidsns/chroot, got %+v", stripped)
	}
	if !stripped.VfsNS || !stripped.ReadonlyRemount {
		t.Error("PreexecStrip should retain VfsNS and ReadonlyRemount")
	}
	if !stripped.StackLimit || !stripped.TimeLimitMs || !stripped.OutputLimit || !stripped.MemoryLimit || !stripped.MetaFile {
		t.Error("PreexecStrip should retain resource-limit flags and MetaFile")
	}
}

func TestPreenterStrip(t *testing.T) {
	f := Flags{
		VfsNS: true, ReadonlyRemount: true, PidsNS: true, Chroot: true,
		Caps: true, UID: true,
	}

	stripped := PreenterStrip(f)

	if stripped.VfsNS || stripped.ReadonlyRemount || stripped.PidsNS || stripped.Chroot {
		t.Errorf("PreenterStrip should clear namespace/chroot flags, got %+v", stripped)
	}
	if !stripped.Caps || !stripped.UID {
		t.Error("PreenterStrip should leave unrelated flags untouched")
	}
}
