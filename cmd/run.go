package cmd

import (
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	sberrors "minibox/errors"
	"minibox/launcher"
	"minibox/linux"
	"minibox/logging"
	"minibox/policy"
)

var (
	runBindings      []string
	runChroot        string
	runChdir         string
	runInheritGroups bool
	runGroup         string
	runUser          string
	runCaps          string
	runStrictSeccomp bool
	runFilterPath    string
	runLogSeccomp    bool
	runNoNewPrivs    bool
	runPidsNS        bool
	runReadonly      bool
	runVfsNS         bool
	runNetNS         bool
	runDisablePtrace bool
	runMountTmp      bool
	runTimeLimitMs   uint64
	runOutputLimit   uint64
	runMemoryLimit   uint64
	runMetaFile      string
	runStdin         string
	runStdout        string
	runStderr        string
	runPreload       string
)

var runCmd = &cobra.Command{
	Use:   "run <target> [args...]",
	Short: "launch a target under the sandbox policy described by the flags",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringArrayVarP(&runBindings, "bind", "b", nil, "bind-mount src,dest[,w] (repeatable)")
	f.StringVarP(&runChroot, "chroot", "C", "", "chroot staging directory")
	f.StringVarP(&runChdir, "chdir", "d", "", "working directory inside the jail")
	f.BoolVarP(&runInheritGroups, "inherit-groups", "G", false, "inherit the target user's supplementary groups")
	f.StringVarP(&runGroup, "group", "g", "", "drop to this group (name or numeric gid)")
	f.StringVarP(&runUser, "user", "u", "", "drop to this user (name or numeric uid)")
	f.StringVarP(&runCaps, "caps", "c", "", "capability keep-mask (decimal or 0x-hex)")
	f.BoolVarP(&runStrictSeccomp, "seccomp-strict", "s", false, "enable SECCOMP_MODE_STRICT")
	f.StringVarP(&runFilterPath, "seccomp-filter", "S", "", "path to a compiled BPF seccomp program")
	f.BoolVarP(&runLogSeccomp, "log-seccomp", "L", false, "log SIGSYS on seccomp violation")
	f.BoolVarP(&runNoNewPrivs, "no-new-privs", "n", false, "set no_new_privs before installing seccomp")
	f.BoolVarP(&runPidsNS, "pid-ns", "p", false, "isolate in a new pid namespace, with this process as init")
	f.BoolVarP(&runReadonly, "readonly-proc", "r", false, "remount /proc read-only")
	f.BoolVarP(&runVfsNS, "vfs-ns", "v", false, "isolate in a new mount namespace")
	f.BoolVarP(&runNetNS, "net-ns", "e", false, "isolate in a new network namespace")
	f.BoolVarP(&runDisablePtrace, "disable-ptrace", "i", false, "mark the jail-entry process non-dumpable (reset by execve for the target)")
	f.BoolVar(&runMountTmp, "mount-tmp", false, "mount a tmpfs at /tmp inside the jail")
	f.Uint64VarP(&runTimeLimitMs, "time-limit", "t", 0, "wall/CPU time limit in milliseconds")
	f.Uint64VarP(&runOutputLimit, "output-limit", "O", 0, "RLIMIT_FSIZE in bytes")
	f.Uint64VarP(&runMemoryLimit, "memory-limit", "m", 0, "RLIMIT_AS in bytes")
	f.StringVarP(&runMetaFile, "meta-file", "M", "", "path to write post-mortem usage metadata")
	f.StringVar(&runStdin, "stdin", "", "redirect stdin from path (flag \"-0\" in the original CLI grammar)")
	f.StringVar(&runStdout, "stdout", "", "redirect stdout to path (flag \"-1\")")
	f.StringVar(&runStderr, "stderr", "", "redirect stderr to path (flag \"-2\")")
	f.StringVar(&runPreload, "preload", "", "absolute path of the LD_PRELOAD helper for dynamically-linked targets")
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := buildPolicyFromRunFlags()
	if err != nil {
		return err
	}

	target := args[0]
	targetArgs := args[1:]

	l := launcher.New(p, runPreload)

	var stdinFile, stdoutFile, stderrFile *os.File
	if runStdin != "" {
		stdinFile, err = os.Open(runStdin)
		if err != nil {
			return sberrors.Wrap(err, sberrors.ErrBadArgument, "open_stdin")
		}
		defer stdinFile.Close()
	}
	if runStdout != "" {
		stdoutFile, err = os.Create(runStdout)
		if err != nil {
			return sberrors.Wrap(err, sberrors.ErrBadArgument, "open_stdout")
		}
		defer stdoutFile.Close()
	}
	if runStderr != "" {
		stderrFile, err = os.Create(runStderr)
		if err != nil {
			return sberrors.Wrap(err, sberrors.ErrBadArgument, "open_stderr")
		}
		defer stderrFile.Close()
	}

	// With no stdio redirection requested and an interactive stdin, put the
	// terminal in raw mode for the run's duration, restoring it once the
	// target exits — the target's own tty handling replaces this process's.
	var restoreTerm func()
	if runStdin == "" && runStdout == "" && runStderr == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, termErr := term.MakeRaw(int(os.Stdin.Fd()))
		if termErr == nil {
			restoreTerm = func() { term.Restore(int(os.Stdin.Fd()), oldState) }
		}
	}

	pipes, err := l.RunWithPipes(target, targetArgs, stdinFile != nil, stdoutFile != nil, stderrFile != nil)
	if restoreTerm != nil {
		defer restoreTerm()
	}
	if err != nil {
		return err
	}

	// The jail-enter child now holds its own duplicate of the meta-file fd
	// (see launcher.RunWithPipes); the parent's copy only existed to get it
	// there and plays no further part in this process's own run.
	if metaFile, ok := p.MetaSink.(*os.File); ok {
		metaFile.Close()
	}

	var copyDone sync.WaitGroup
	if stdinFile != nil {
		copyDone.Add(1)
		go func() {
			defer copyDone.Done()
			io.Copy(pipes.Stdin, stdinFile)
			pipes.Stdin.Close()
		}()
	}
	if stdoutFile != nil {
		copyDone.Add(1)
		go func() {
			defer copyDone.Done()
			io.Copy(stdoutFile, pipes.Stdout)
		}()
	}
	if stderrFile != nil {
		copyDone.Add(1)
		go func() {
			defer copyDone.Done()
			io.Copy(stderrFile, pipes.Stderr)
		}()
	}

	logging.Info("run", "target", target, "init_pid", p.InitPID)

	code, waitErr := l.Wait()
	copyDone.Wait()
	if waitErr != nil {
		return waitErr
	}
	if restoreTerm != nil {
		restoreTerm()
	}
	os.Exit(code)
	return nil
}

func buildPolicyFromRunFlags() (*policy.Policy, error) {
	flags, err := cliFlagsFromRunFlags()
	if err != nil {
		return nil, err
	}
	return policy.FromFlags(flags)
}

func cliFlagsFromRunFlags() (policy.CLIFlags, error) {
	var flags policy.CLIFlags

	for _, raw := range runBindings {
		spec, err := policy.ParseBindingSpec(raw)
		if err != nil {
			return flags, err
		}
		flags.Bindings = append(flags.Bindings, spec)
	}

	flags.ChrootDir = runChroot
	flags.ChdirInJail = runChdir

	if runUser != "" {
		uid, gid, err := resolveUser(runUser)
		if err != nil {
			return flags, err
		}
		flags.HasUID = true
		flags.UID = uid
		if runGroup == "" {
			flags.HasGID = true
			flags.GID = gid
		}
		flags.User = runUser
		flags.UserGID = gid
	}
	if runGroup != "" {
		gid, err := resolveGroup(runGroup)
		if err != nil {
			return flags, err
		}
		flags.HasGID = true
		flags.GID = gid
	}
	flags.InheritGroups = runInheritGroups

	if runCaps != "" {
		mask, err := policy.ParseCapMask(runCaps)
		if err != nil {
			return flags, err
		}
		flags.HasCaps = true
		flags.Caps = mask
	}

	if runFilterPath != "" {
		raw, err := os.ReadFile(runFilterPath)
		if err != nil {
			return flags, sberrors.Wrap(err, sberrors.ErrBadArgument, "read_seccomp_filter")
		}
		flags.Filter = &policy.FilterProgram{Instructions: raw}
	}
	flags.LogSeccomp = runLogSeccomp
	flags.LegacySeccomp = runStrictSeccomp

	flags.NoNewPrivs = runNoNewPrivs
	flags.PidsNS = runPidsNS
	flags.ReadonlyRemount = runReadonly
	flags.VfsNS = runVfsNS
	flags.NetNS = runNetNS
	flags.DisablePtrace = runDisablePtrace
	flags.MountTmp = runMountTmp

	if runTimeLimitMs > 0 {
		flags.HasTimeLimit = true
		flags.TimeLimitMs = runTimeLimitMs
	}
	if runOutputLimit > 0 {
		flags.HasOutputLimit = true
		flags.OutputLimit = runOutputLimit
	}
	if runMemoryLimit > 0 {
		flags.HasMemoryLimit = true
		flags.MemoryLimit = runMemoryLimit
	}

	if runMetaFile != "" {
		f, err := os.Create(runMetaFile)
		if err != nil {
			return flags, sberrors.Wrap(err, sberrors.ErrBadArgument, "open_meta_file")
		}
		flags.MetaSink = f
	}

	return flags, nil
}

func resolveUser(user string) (uid, gid uint32, err error) {
	return linux.LookupUser(user)
}

func resolveGroup(group string) (gid uint32, err error) {
	return linux.LookupGroup(group)
}
