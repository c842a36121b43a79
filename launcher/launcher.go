// Package launcher implements the sandbox launcher/supervisor: the state
// machine that forks (or clones into a fresh pid namespace), hands the
// policy to the child across a pipe, drives jail entry in the child, and
// supervises the resulting process tree from the parent.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	sberrors "minibox/errors"
	"minibox/linux"
	"minibox/logging"
	"minibox/policy"
	"minibox/utils"
)

// PolicyFDEnv names the environment variable that carries the policy
// pipe's read end file descriptor number as an ASCII integer, for the
// preload helper to discover in a dynamically-linked child.
const PolicyFDEnv = "SANDBOX_POLICY_FD"

// MetaFDEnv names the environment variable that carries the meta-file's
// inherited file descriptor number, when a meta-file was requested. The
// meta-file is opened by the host against the real filesystem, before any
// chroot, so inheriting the open fd is the only way the jail-enter child
// can still reach it once its mount namespace diverges.
const MetaFDEnv = "SANDBOX_META_FD"

// preloadHelperEnvVar names the LD_PRELOAD variable whose entry is appended for the duration of the
// fork; restored in the parent immediately after.
const preloadHelperEnvVar = "LD_PRELOAD"

// Exit-code taxonomy surfaced by Wait, beyond ordinary 0..127 exits and the
// 128+signal shell convention.
const (
	ErrJail = 127 + 100 // ERR_JAIL: target killed by SIGSYS (seccomp violation).
	ErrInit = 127 + 101 // ERR_INIT: init supervisor failed or a deadline fired.
)

// Launcher drives one sandboxed run.
type Launcher struct {
	Policy *policy.Policy

	// PreloadHelperPath is the absolute path of the injected shared object.
	// Empty disables the LD_PRELOAD handshake (static targets don't need it).
	PreloadHelperPath string

	pipe    *utils.SyncPipe
	initPID int
}

// New returns a Launcher for the given policy and preload helper path.
func New(p *policy.Policy, preloadHelperPath string) *Launcher {
	return &Launcher{Policy: p, PreloadHelperPath: preloadHelperPath}
}

// Run forks, transfers the policy, and execs target with argv. It is
// equivalent to RunWithPipes with no stdio redirection requested.
func (l *Launcher) Run(target string, argv []string) error {
	_, err := l.RunWithPipes(target, argv, false, false, false)
	return err
}

// StdioPipes holds the parent-side ends of any stdio pipes the caller
// requested in RunWithPipes.
type StdioPipes struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// RunWithPipes implements the launcher algorithm of the jail-entry state
// machine in strict order: save/append LD_PRELOAD, open the policy pipe,
// open any requested stdio pipes, clone(NEWPID) or fork, then diverge into
// the parent and child paths.
func (l *Launcher) RunWithPipes(target string, argv []string, wantStdin, wantStdout, wantStderr bool) (*StdioPipes, error) {
	if err := l.Policy.Validate(); err != nil {
		return nil, err
	}

	savedPreload := os.Getenv(preloadHelperEnvVar)
	if l.PreloadHelperPath != "" {
		appendPreload(l.PreloadHelperPath)
	}

	policyPipe, err := utils.NewSyncPipe()
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrInitFailure, "run")
	}

	self, err := os.Executable()
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrInitFailure, "run")
	}

	cmd := exec.Command(self, append([]string{jailEntrySubcommand, "--", target}, argv...)...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", PolicyFDEnv, policyFDSlot))
	cmd.ExtraFiles = []*os.File{policyPipe.ReadEnd()}

	// The meta-file, if any, was opened by the host as an io.Writer and
	// stored on the Policy for in-process callers; a real launch needs it
	// as an inherited fd instead, since MetaSink itself can't cross the
	// marshalled policy's wire format.
	if l.Policy.Flags.MetaFile {
		if metaFile, ok := l.Policy.MetaSink.(*os.File); ok {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", MetaFDEnv, metaFDSlot))
			cmd.ExtraFiles = append(cmd.ExtraFiles, metaFile)
		}
	}

	pipes := &StdioPipes{}
	if wantStdin {
		r, w, perr := os.Pipe()
		if perr != nil {
			return nil, sberrors.Wrap(perr, sberrors.ErrInitFailure, "run")
		}
		cmd.Stdin = r
		pipes.Stdin = w
	} else {
		cmd.Stdin = os.Stdin
	}
	if wantStdout {
		r, w, perr := os.Pipe()
		if perr != nil {
			return nil, sberrors.Wrap(perr, sberrors.ErrInitFailure, "run")
		}
		cmd.Stdout = w
		pipes.Stdout = r
	} else {
		cmd.Stdout = os.Stdout
	}
	if wantStderr {
		r, w, perr := os.Pipe()
		if perr != nil {
			return nil, sberrors.Wrap(perr, sberrors.ErrInitFailure, "run")
		}
		cmd.Stderr = w
		pipes.Stderr = r
	} else {
		cmd.Stderr = os.Stderr
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: linux.CloneFlags(l.Policy),
	}

	if err := cmd.Start(); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrInitFailure, "run")
	}

	// Parent path: restore LD_PRELOAD, record init pid, then write the
	// marshalled policy. The child has already inherited the modified
	// environment at exec time, so restoring here is safe.
	os.Setenv(preloadHelperEnvVar, savedPreload)
	l.initPID = cmd.Process.Pid
	l.Policy.InitPID = l.initPID

	buf := make([]byte, policy.Size(l.Policy))
	policy.Marshal(l.Policy, buf)
	if err := writeSizedPolicy(policyPipe.WriteEnd(), buf); err != nil {
		cmd.Process.Kill()
		return nil, sberrors.Wrap(err, sberrors.ErrInitFailure, "run")
	}
	policyPipe.Close()

	l.pipe = policyPipe

	logging.Info("sandbox launched", "pid", l.initPID, "target", target)

	return pipes, nil
}

// Wait blocks for the first-generation child to exit and translates its
// disposition into the exit-code taxonomy: 0..127 for the target's own
// exit, 128+n for death by signal n, ErrJail for SIGSYS, ErrInit if the
// supervisor itself failed.
func (l *Launcher) Wait() (int, error) {
	if l.initPID <= 0 {
		return -1, sberrors.New(sberrors.ErrInitFailure, "wait", "no process launched")
	}

	var wstatus syscall.WaitStatus
	_, err := syscall.Wait4(l.initPID, &wstatus, 0, nil)
	if err != nil {
		return -1, sberrors.WrapSyscall(err, "wait", "wait4")
	}

	switch {
	case wstatus.Exited():
		return wstatus.ExitStatus(), nil
	case wstatus.Signaled():
		sig := wstatus.Signal()
		if sig == syscall.SIGSYS {
			return ErrJail, nil
		}
		return 128 + int(sig), nil
	default:
		return -1, sberrors.New(sberrors.ErrInitFailure, "wait", "unexpected wait status")
	}
}

// Kill sends SIGTERM to the init pid — or, for non-pid-namespaced runs,
// directly to the target — and then waits for exit.
func (l *Launcher) Kill() (int, error) {
	if l.initPID > 0 {
		syscall.Kill(l.initPID, syscall.SIGTERM)
	}
	return l.Wait()
}

// WaitContext is Wait with context cancellation: it returns ctx.Err() if
// the context is cancelled before the child exits, without abandoning the
// underlying wait (callers that need to reap must still call Wait).
func (l *Launcher) WaitContext(ctx context.Context) (int, error) {
	type result struct {
		code int
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		code, err := l.Wait()
		ch <- result{code, err}
	}()

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case r := <-ch:
		return r.code, r.err
	}
}

func appendPreload(helperPath string) {
	current := os.Getenv(preloadHelperEnvVar)
	if current == "" {
		os.Setenv(preloadHelperEnvVar, helperPath)
		return
	}
	os.Setenv(preloadHelperEnvVar, current+" "+helperPath)
}

func writeSizedPolicy(w *os.File, buf []byte) error {
	var sizeBuf [8]byte
	size := uint64(len(buf))
	for i := 0; i < 8; i++ {
		sizeBuf[i] = byte(size >> (8 * i))
	}
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// policyFDSlot is the fixed fd number the policy pipe's read end lands on
// in the child, since cmd.ExtraFiles always starts at fd 3. metaFDSlot is
// the next slot over, valid only when the meta-file entry above was added.
const (
	policyFDSlot = 3
	metaFDSlot   = 4
)

// jailEntrySubcommand is the argv[1] the launcher re-execs itself with to
// reach the jail-entry path (see cmd's hidden "jail-enter" command).
const jailEntrySubcommand = "jail-enter"
