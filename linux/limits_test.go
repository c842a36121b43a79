package linux

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestMsToCeilSeconds(t *testing.T) {
	tests := map[uint64]uint64{
		0:     0,
		1:     1,
		999:   1,
		1000:  1,
		1001:  2,
		2500:  3,
		60000: 60,
	}
	for ms, want := range tests {
		if got := msToCeilSeconds(ms); got != want {
			t.Errorf("msToCeilSeconds(%d) = %d, want %d", ms, got, want)
		}
	}
}

func TestSetRlimit_CoreToZero(t *testing.T) {
	if err := setRlimit(unix.RLIMIT_CORE, 0); err != nil {
		t.Fatalf("setRlimit(RLIMIT_CORE, 0) failed: %v", err)
	}
}

func TestSetRlimitSoftHard_CPUGetsOneSecondOfSlack(t *testing.T) {
	var before unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CPU, &before); err != nil {
		t.Fatalf("Getrlimit(RLIMIT_CPU) failed: %v", err)
	}
	if before.Max != unix.RLIM_INFINITY {
		t.Skip("RLIMIT_CPU hard limit already bounded by the test environment")
	}

	// Large enough that it can never bind during this test run — setting
	// RLIMIT_CPU's hard limit is irreversible without CAP_SYS_RESOURCE, so
	// a low value here would risk the test binary's own CPU budget.
	const cur = uint64(3600)
	if err := setRlimitSoftHard(unix.RLIMIT_CPU, cur, cur+1); err != nil {
		t.Fatalf("setRlimitSoftHard(RLIMIT_CPU, %d, %d) failed: %v", cur, cur+1, err)
	}

	var after unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CPU, &after); err != nil {
		t.Fatalf("Getrlimit(RLIMIT_CPU) failed: %v", err)
	}
	if after.Cur != cur || after.Max != cur+1 {
		t.Errorf("RLIMIT_CPU = {Cur:%d Max:%d}, want {Cur:%d Max:%d}", after.Cur, after.Max, cur, cur+1)
	}
}
