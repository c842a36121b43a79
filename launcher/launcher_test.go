package launcher

import (
	"io"
	"os"
	"testing"
)

func TestAppendPreload_SetsWhenEmpty(t *testing.T) {
	os.Unsetenv(preloadHelperEnvVar)
	defer os.Unsetenv(preloadHelperEnvVar)

	appendPreload("/jail/helper.so")

	if got := os.Getenv(preloadHelperEnvVar); got != "/jail/helper.so" {
		t.Errorf("LD_PRELOAD = %q, want %q", got, "/jail/helper.so")
	}
}

func TestAppendPreload_AppendsToExisting(t *testing.T) {
	os.Setenv(preloadHelperEnvVar, "/usr/lib/existing.so")
	defer os.Unsetenv(preloadHelperEnvVar)

	appendPreload("/jail/helper.so")

	want := "/usr/lib/existing.so /jail/helper.so"
	if got := os.Getenv(preloadHelperEnvVar); got != want {
		t.Errorf("LD_PRELOAD = %q, want %q", got, want)
	}
}

func TestWriteSizedPolicy_RoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	payload := []byte("a fake marshalled policy record")

	go func() {
		writeSizedPolicy(w, payload)
		w.Close()
	}()

	var sizeBuf [8]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		t.Fatalf("reading size header: %v", err)
	}
	var size uint64
	for i := 0; i < 8; i++ {
		size |= uint64(sizeBuf[i]) << (8 * i)
	}
	if size != uint64(len(payload)) {
		t.Fatalf("size header = %d, want %d", size, len(payload))
	}

	got := make([]byte, size)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("body = %q, want %q", got, payload)
	}
}
