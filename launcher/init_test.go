package launcher

import (
	"bytes"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"minibox/policy"
)

func TestEmitMeta_WritesStatusLine(t *testing.T) {
	var buf bytes.Buffer
	p := policy.New()
	p.SetMetaSink(&buf)

	state := &initState{wallStart: time.Now().Add(-time.Millisecond)}
	state.exitStatus = 7

	emitMeta(p, state)

	out := buf.String()
	for _, want := range []string{"time:", "time-wall:", "mem:", "status:7"} {
		if !strings.Contains(out, want) {
			t.Errorf("emitMeta output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "signal:") {
		t.Errorf("emitMeta output %q should not contain a signal line when no override is set", out)
	}
}

func TestEmitMeta_WritesSignalLineOnOverride(t *testing.T) {
	var buf bytes.Buffer
	p := policy.New()
	p.SetMetaSink(&buf)

	state := &initState{wallStart: time.Now()}
	state.signalOverride = 9

	emitMeta(p, state)

	out := buf.String()
	if !strings.Contains(out, "signal:9") {
		t.Errorf("emitMeta output %q missing signal:9", out)
	}
	if strings.Contains(out, "status:") {
		t.Errorf("emitMeta output %q should not contain a status line when a signal override is set", out)
	}
}

func TestReapUntilGrandchildExits_PreservesTimeoutOverride(t *testing.T) {
	state := &initState{grandchildPID: -1}
	// Simulate armSignals' SIGALRM case having already fired: it stashes
	// SIGXCPU before sending the SIGKILL that reapUntilGrandchildExits is
	// about to observe as the grandchild's own death signal.
	state.signalOverride = int32(syscall.SIGXCPU)

	// reapUntilGrandchildExits itself loops on a real wait4, which this
	// test has no child process to satisfy; exercise the same guard its
	// Signaled() branch uses directly, matching the reap loop line for
	// line.
	atomic.CompareAndSwapInt32(&state.signalOverride, 0, int32(syscall.SIGKILL))

	if got := atomic.LoadInt32(&state.signalOverride); got != int32(syscall.SIGXCPU) {
		t.Errorf("signalOverride = %d, want SIGXCPU (%d) preserved over a later SIGKILL", got, syscall.SIGXCPU)
	}
}

func TestEmitMeta_NoopWithoutMetaFileFlag(t *testing.T) {
	var buf bytes.Buffer
	p := policy.New() // MetaFile flag never set

	emitMeta(p, &initState{wallStart: time.Now()})

	if buf.Len() != 0 {
		t.Errorf("expected no output when meta-file isn't requested, got %q", buf.String())
	}
}
