package linux

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"minibox/policy"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("skipping rootfs test: requires root")
	}
}

func TestApplyBindings_BindsAndReadonlyRemounts(t *testing.T) {
	requireRoot(t)

	chroot := t.TempDir()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "marker"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(chroot, "data"), 0755); err != nil {
		t.Fatal(err)
	}

	p := policy.New()
	p.SetChroot(chroot)
	p.AddBinding(src, "/data", false)

	if err := ApplyBindings(p); err != nil {
		t.Fatalf("ApplyBindings failed: %v", err)
	}
	defer syscall.Unmount(filepath.Join(chroot, "data"), syscall.MNT_DETACH)

	if _, err := os.Stat(filepath.Join(chroot, "data", "marker")); err != nil {
		t.Errorf("bind mount did not expose marker: %v", err)
	}

	if err := os.WriteFile(filepath.Join(chroot, "data", "newfile"), []byte("x"), 0644); err == nil {
		t.Error("expected write to read-only bind to fail")
	}
}
