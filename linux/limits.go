package linux

import (
	"time"

	"golang.org/x/sys/unix"

	sberrors "minibox/errors"
	"minibox/policy"
)

// ApplyLimits arms the rlimits a Policy requests. It runs in the jail-entry
// process before execve for every target, static or dynamically linked;
// rlimits and the itimer carry across the exec.
func ApplyLimits(p *policy.Policy) error {
	if p.Flags.MemoryLimit {
		if err := setRlimit(unix.RLIMIT_AS, p.MemoryLimitBytes); err != nil {
			return sberrors.WrapSyscall(err, "apply_limits", "setrlimit(RLIMIT_AS)")
		}
	}

	if p.Flags.OutputLimit {
		if err := setRlimit(unix.RLIMIT_FSIZE, p.OutputLimitBytes); err != nil {
			return sberrors.WrapSyscall(err, "apply_limits", "setrlimit(RLIMIT_FSIZE)")
		}
		if err := setRlimit(unix.RLIMIT_CORE, 0); err != nil {
			return sberrors.WrapSyscall(err, "apply_limits", "setrlimit(RLIMIT_CORE)")
		}
	}

	if p.Flags.StackLimit {
		if err := setRlimit(unix.RLIMIT_STACK, p.StackLimitBytes); err != nil {
			return sberrors.WrapSyscall(err, "apply_limits", "setrlimit(RLIMIT_STACK)")
		}
	}

	if p.Flags.TimeLimitMs {
		cpuSeconds := msToCeilSeconds(p.TimeLimitMs)
		// The hard limit sits one second past the soft limit: the soft
		// limit delivers the catchable SIGXCPU this package's handlers key
		// off of, and the hard limit is the unconditional SIGKILL backstop
		// if that first warning somehow isn't enough.
		if err := setRlimitSoftHard(unix.RLIMIT_CPU, cpuSeconds, cpuSeconds+1); err != nil {
			return sberrors.WrapSyscall(err, "apply_limits", "setrlimit(RLIMIT_CPU)")
		}

		// A pid-namespaced run gets its wall-clock deadline from the init
		// supervisor instead (launcher.RunInit): it can kill the whole
		// process group and record a precise timeout disposition, which a
		// bare SIGALRM-to-self can't. Without a supervisor, arm the itimer
		// directly so a run with no pid namespace still gets a wall-clock
		// limit beyond plain CPU time (a sleeping target burns no CPU time
		// but must still be bounded).
		if !p.Flags.PidsNS {
			if err := armWallClockAlarm(p.TimeLimitMs); err != nil {
				return err
			}
		}
	}

	return nil
}

// msToCeilSeconds rounds a millisecond duration up to whole seconds, since
// RLIMIT_CPU only takes whole seconds.
func msToCeilSeconds(ms uint64) uint64 {
	return (ms + 999) / 1000
}

func setRlimit(resource int, value uint64) error {
	return setRlimitSoftHard(resource, value, value)
}

func setRlimitSoftHard(resource int, cur, max uint64) error {
	rlim := unix.Rlimit{Cur: cur, Max: max}
	return unix.Setrlimit(resource, &rlim)
}

// armWallClockAlarm delivers SIGALRM after timeLimitMs milliseconds, for
// wall-clock enforcement in runs without a pid-namespace init supervisor.
func armWallClockAlarm(timeLimitMs uint64) error {
	it := unix.MakeItimerval(0, time.Duration(timeLimitMs)*time.Millisecond)
	if _, err := unix.Setitimer(unix.ITIMER_REAL, it); err != nil {
		return sberrors.WrapSyscall(err, "arm_wall_clock_alarm", "setitimer")
	}
	return nil
}
