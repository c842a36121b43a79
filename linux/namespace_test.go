package linux

import (
	"syscall"
	"testing"

	"minibox/policy"
)

func TestCloneFlags_AlwaysIncludesSIGCHLD(t *testing.T) {
	p := policy.New()
	flags := CloneFlags(p)
	if flags&uintptr(syscall.SIGCHLD) == 0 {
		t.Error("CloneFlags must always include SIGCHLD")
	}
	if flags&CLONE_NEWPID != 0 {
		t.Error("CloneFlags should not set CLONE_NEWPID when PidsNS is unset")
	}
}

func TestCloneFlags_PidsNSAddsCloneNewPID(t *testing.T) {
	p := policy.New()
	p.EnablePIDNamespace()

	flags := CloneFlags(p)
	if flags&CLONE_NEWPID == 0 {
		t.Error("CloneFlags should set CLONE_NEWPID when PidsNS is enabled")
	}
}
