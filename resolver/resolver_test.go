package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"minibox/policy"
)

func TestLongestPrefixResolution(t *testing.T) {
	p := policy.New()
	p.AddBinding("/x", "/a", false)
	p.AddBinding("/y", "/a/b", false)

	if got := applyBindingPrefix(p, "/a/b/c"); got != "/y/c" {
		t.Errorf("applyBindingPrefix(/a/b/c) = %q, want /y/c", got)
	}
	if got := applyBindingPrefix(p, "/a/d"); got != "/x/d" {
		t.Errorf("applyBindingPrefix(/a/d) = %q, want /x/d", got)
	}
}

func TestApplyBindingPrefix_NoMatchFallsBackToChroot(t *testing.T) {
	p := policy.New()
	p.SetChroot("/jail")
	p.AddBinding("/x", "/a", false)

	got := applyBindingPrefix(p, "/elsewhere/file")
	want := "/jail/elsewhere/file"
	if got != want {
		t.Errorf("applyBindingPrefix fallback = %q, want %q", got, want)
	}
}

func TestNormalize_DeduplicatesSlashes(t *testing.T) {
	tests := map[string]string{
		"/a//b/c":  "/a/b/c",
		"/a/b/":    "/a/b",
		"a/b":      "/a/b",
		"/":        "/",
		"///":      "/",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFollowSymlinks_RegularFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.WriteFile(target, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := followSymlinks(target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != target {
		t.Errorf("followSymlinks = %q, want %q", got, target)
	}
}

func TestFollowSymlinks_Chain(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	link1 := filepath.Join(dir, "link1")
	link2 := filepath.Join(dir, "link2")

	if err := os.WriteFile(target, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link1); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(link1, link2); err != nil {
		t.Fatal(err)
	}

	got, err := followSymlinks(link2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != target {
		t.Errorf("followSymlinks = %q, want %q", got, target)
	}
}

func TestFollowSymlinks_Cycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	if err := os.Symlink(b, a); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(a, b); err != nil {
		t.Fatal(err)
	}

	_, err := followSymlinks(a)
	if err == nil {
		t.Fatal("expected error for symlink cycle")
	}
}

func TestFollowSymlinks_NotRegularFile(t *testing.T) {
	dir := t.TempDir()

	_, err := followSymlinks(dir)
	if err == nil {
		t.Fatal("expected error for directory target")
	}
}

func TestResolve_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "realbin")
	if err := os.Mkdir(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	exe := filepath.Join(binDir, "true")
	if err := os.WriteFile(exe, []byte("#!/bin/true\n"), 0755); err != nil {
		t.Fatal(err)
	}

	p := policy.New()
	p.AddBinding(binDir, "/bin", false)

	got, err := Resolve(p, "/bin/true")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != exe {
		t.Errorf("Resolve(/bin/true) = %q, want %q", got, exe)
	}
}
