package launcher

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"minibox/policy"
)

// initState holds the process-local state a pid-namespace init supervisor
// needs from its signal handlers. Signal handlers can't carry context
// directly, so it's stored behind a single atomic pointer set once before
// signals are armed, per the supervisor design.
type initState struct {
	grandchildPID  int
	exitStatus     int32
	signalOverride int32
	wallStart      time.Time
}

var currentInit atomic.Pointer[initState]

// RunInit becomes pid 1 in a fresh pid namespace: it forks the grandchild
// that actually runs the target, installs signal handlers, reaps orphans,
// and emits the meta-file before exiting with the mapped status.
//
// grandchildFn must fork (or otherwise spawn) the process that will
// execve the target, returning its pid immediately without blocking.
func RunInit(p *policy.Policy, grandchildFn func() (int, error)) {
	state := &initState{wallStart: time.Now()}
	currentInit.Store(state)

	pid, err := grandchildFn()
	if err != nil {
		os.Exit(ErrInit)
	}
	state.grandchildPID = pid

	armSignals(p, state)

	if err := reapUntilGrandchildExits(state); err != nil {
		os.Exit(ErrInit)
	}

	emitMeta(p, state)

	override := atomic.LoadInt32(&state.signalOverride)
	if override != 0 {
		os.Exit(ErrInit)
	}
	os.Exit(int(atomic.LoadInt32(&state.exitStatus)))
}

// armSignals installs SIGTERM → propagate-and-exit and, if a time limit is
// set, SIGALRM → override to SIGXCPU and kill the grandchild's process
// group. The alarm carries one second of wall-clock slack past the CPU
// rlimit's own deadline.
func armSignals(p *policy.Policy, state *initState) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGALRM)

	go func() {
		for sig := range sigs {
			switch sig {
			case syscall.SIGTERM:
				if state.grandchildPID > 0 {
					syscall.Kill(-state.grandchildPID, syscall.SIGKILL)
				}
				os.Exit(0)
			case syscall.SIGALRM:
				atomic.StoreInt32(&state.signalOverride, int32(syscall.SIGXCPU))
				if state.grandchildPID > 0 {
					syscall.Kill(-state.grandchildPID, syscall.SIGKILL)
				}
			}
		}
	}()

	if p.Flags.TimeLimitMs {
		slack := (p.TimeLimitMs + 1999) / 1000 * 1000
		time.AfterFunc(time.Duration(slack)*time.Millisecond, func() {
			syscall.Kill(os.Getpid(), syscall.SIGALRM)
		})
	}
}

// reapUntilGrandchildExits loops wait3/wait4 until no children remain,
// recording only the grandchild's own disposition.
func reapUntilGrandchildExits(state *initState) error {
	for {
		var wstatus syscall.WaitStatus
		var rusage syscall.Rusage
		pid, err := syscall.Wait4(-1, &wstatus, 0, &rusage)
		if err == syscall.ECHILD {
			return nil
		}
		if err != nil {
			return err
		}

		if pid == state.grandchildPID {
			switch {
			case wstatus.Exited():
				atomic.StoreInt32(&state.exitStatus, int32(wstatus.ExitStatus()))
			case wstatus.Signaled():
				// A pending SIGALRM override already names the cause
				// (SIGXCPU) of the SIGKILL that's about to show up here;
				// don't let the grandchild's own death signal clobber it.
				atomic.CompareAndSwapInt32(&state.signalOverride, 0, int32(wstatus.Signal()))
			}
		}
	}
}

// emitMeta writes exactly the lines the meta-file format requires, in
// fixed order, using a monotonic wall-clock reading in place of
// CLOCK_REALTIME: the reported unit (microseconds) is preserved, but the
// clock itself can't be stepped backward by the system clock.
func emitMeta(p *policy.Policy, state *initState) {
	if !p.Flags.MetaFile || p.MetaSink == nil {
		return
	}

	wallUs := time.Since(state.wallStart).Microseconds()

	var rusage syscall.Rusage
	syscall.Getrusage(syscall.RUSAGE_CHILDREN, &rusage)
	userUs := rusage.Utime.Sec*1_000_000 + int64(rusage.Utime.Usec)
	maxRSS := rusage.Maxrss * 1024 // Linux reports Maxrss in KB.

	writeMetaLine(p.MetaSink, "time", userUs)
	writeMetaLine(p.MetaSink, "time-wall", wallUs)
	writeMetaLine(p.MetaSink, "mem", maxRSS)

	override := atomic.LoadInt32(&state.signalOverride)
	if override != 0 {
		fmt.Fprintf(p.MetaSink, "signal:%d\n", override)
		return
	}
	fmt.Fprintf(p.MetaSink, "status:%d\n", atomic.LoadInt32(&state.exitStatus))
}

func writeMetaLine(w io.Writer, key string, value int64) {
	fmt.Fprintf(w, "%s:%d\n", key, value)
}
