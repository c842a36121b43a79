// Package linux implements the jail-entry primitives: filesystem layering,
// privilege drop, seccomp installation, and resource-limit enforcement.
package linux

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	sberrors "minibox/errors"
)

// Capability numbers (from linux/capability.h). Policy.Caps addresses these
// by bit position directly; there is no name table in this core — the CLI
// front-end that parses capability names is an external collaborator.
const (
	CAP_CHOWN              = 0
	CAP_DAC_OVERRIDE       = 1
	CAP_DAC_READ_SEARCH    = 2
	CAP_FOWNER             = 3
	CAP_FSETID             = 4
	CAP_KILL               = 5
	CAP_SETGID             = 6
	CAP_SETUID             = 7
	CAP_SETPCAP            = 8
	CAP_LINUX_IMMUTABLE    = 9
	CAP_NET_BIND_SERVICE   = 10
	CAP_NET_BROADCAST      = 11
	CAP_NET_ADMIN          = 12
	CAP_NET_RAW            = 13
	CAP_IPC_LOCK           = 14
	CAP_IPC_OWNER          = 15
	CAP_SYS_MODULE         = 16
	CAP_SYS_RAWIO          = 17
	CAP_SYS_CHROOT         = 18
	CAP_SYS_PTRACE         = 19
	CAP_SYS_PACCT          = 20
	CAP_SYS_ADMIN          = 21
	CAP_SYS_BOOT           = 22
	CAP_SYS_NICE           = 23
	CAP_SYS_RESOURCE       = 24
	CAP_SYS_TIME           = 25
	CAP_SYS_TTY_CONFIG     = 26
	CAP_MKNOD              = 27
	CAP_LEASE              = 28
	CAP_AUDIT_WRITE        = 29
	CAP_AUDIT_CONTROL      = 30
	CAP_SETFCAP            = 31
	CAP_MAC_OVERRIDE       = 32
	CAP_MAC_ADMIN          = 33
	CAP_SYSLOG             = 34
	CAP_WAKE_ALARM         = 35
	CAP_BLOCK_SUSPEND      = 36
	CAP_AUDIT_READ         = 37
	CAP_PERFMON            = 38
	CAP_BPF                = 39
	CAP_CHECKPOINT_RESTORE = 40
)

const (
	PR_CAPBSET_READ = 23
	PR_CAPBSET_DROP = 24
)

// LINUX_CAPABILITY_VERSION_3 selects the 64-bit-wide capset/capget ABI.
const LINUX_CAPABILITY_VERSION_3 = 0x20080522

type capHeader struct {
	Version uint32
	Pid     int32
}

type capData struct {
	Effective   uint32
	Permitted   uint32
	Inheritable uint32
}

var (
	lastCapOnce  sync.Once
	lastCapValue = 40 // conservative fallback if /proc is unreadable.
)

// readCapLastCap reads /proc/sys/kernel/cap_last_cap.
func readCapLastCap() (int, error) {
	data, err := os.ReadFile("/proc/sys/kernel/cap_last_cap")
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < 0 {
		return 0, sberrors.New(sberrors.ErrBadArgument, "read_cap_last_cap", "malformed value")
	}
	return v, nil
}

// getLastCap returns the highest capability number the running kernel
// supports, read once from /proc/sys/kernel/cap_last_cap. Capability math
// must use this instead of a compile-time constant so the bounding-set drop
// stays correct across kernel versions that add new capability bits.
func getLastCap() int {
	lastCapOnce.Do(func() {
		if v, err := readCapLastCap(); err == nil {
			lastCapValue = v
			return
		}
		// Fallback: probe PR_CAPBSET_READ upward from the known maximum.
		for cap := 40; cap <= 63; cap++ {
			ret, _, _ := syscall.Syscall(syscall.SYS_PRCTL, PR_CAPBSET_READ, uintptr(cap), 0)
			if ret == ^uintptr(0) {
				lastCapValue = cap - 1
				return
			}
		}
		lastCapValue = 63
	})
	return lastCapValue
}

// capSetsToData packs effective/permitted/inheritable 64-bit masks into the
// two-element 32-bit-wide struct the capset/capget ABI expects.
func capSetsToData(effective, permitted, inheritable uint64) [2]capData {
	return [2]capData{
		{
			Effective:   uint32(effective),
			Permitted:   uint32(permitted),
			Inheritable: uint32(inheritable),
		},
		{
			Effective:   uint32(effective >> 32),
			Permitted:   uint32(permitted >> 32),
			Inheritable: uint32(inheritable >> 32),
		},
	}
}

func dataToCapSets(data [2]capData) (effective, permitted, inheritable uint64) {
	effective = uint64(data[0].Effective) | uint64(data[1].Effective)<<32
	permitted = uint64(data[0].Permitted) | uint64(data[1].Permitted)<<32
	inheritable = uint64(data[0].Inheritable) | uint64(data[1].Inheritable)<<32
	return
}

// SetCaps replaces the calling process's effective, permitted, and
// inheritable capability sets in one capset(2) call.
func SetCaps(effective, permitted, inheritable uint64) error {
	header := capHeader{Version: LINUX_CAPABILITY_VERSION_3, Pid: 0}
	data := capSetsToData(effective, permitted, inheritable)

	_, _, errno := syscall.Syscall(syscall.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return sberrors.WrapSyscall(errno, "drop_caps", "capset")
	}
	return nil
}

// GetCaps reads the calling process's current capability sets.
func GetCaps() (effective, permitted, inheritable uint64, err error) {
	header := capHeader{Version: LINUX_CAPABILITY_VERSION_3, Pid: 0}
	var data [2]capData

	_, _, errno := syscall.Syscall(syscall.SYS_CAPGET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return 0, 0, 0, sberrors.WrapSyscall(errno, "read_caps", "capget")
	}
	e, p, i := dataToCapSets(data)
	return e, p, i, nil
}

// DropBoundingSet drops every capability in [0, cap_last_cap] whose bit is
// clear in keep from the bounding set via PR_CAPBSET_DROP. A capability
// already outside the bounding set is skipped rather than retried.
func DropBoundingSet(keep uint64) error {
	lastCap := getLastCap()
	for cap := 0; cap <= lastCap; cap++ {
		if keep&(1<<uint(cap)) != 0 {
			continue
		}
		ret, _, _ := syscall.Syscall(syscall.SYS_PRCTL, PR_CAPBSET_READ, uintptr(cap), 0)
		if ret != 1 {
			continue // not in the bounding set, nothing to drop.
		}
		_, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_CAPBSET_DROP, uintptr(cap), 0)
		if errno != 0 && errno != syscall.EINVAL {
			return sberrors.WrapSyscall(errno, "drop_bounding_cap", "prctl")
		}
	}
	return nil
}
