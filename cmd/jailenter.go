package cmd

import (
	"os"
	"syscall"

	"github.com/spf13/cobra"

	sberrors "minibox/errors"
	"minibox/launcher"
	"minibox/logging"
	"minibox/policy"
)

// jailEnterCmd is the re-exec entrypoint the launcher starts as argv[0]'s
// child: it reads the policy off the pipe fd the parent wired via
// ExtraFiles, applies the jail, and execs the real target. It is hidden
// from --help since it is never invoked by a human directly.
var jailEnterCmd = &cobra.Command{
	Use:    "jail-enter <target> [args...]",
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	RunE:   runJailEnter,
}

func init() {
	rootCmd.AddCommand(jailEnterCmd)
}

func runJailEnter(cmd *cobra.Command, args []string) error {
	p, err := launcher.ReadPolicyFromEnv()
	if err != nil {
		fatalInit(err)
	}

	if err := launcher.FinishChildSetup(nil, nil, nil); err != nil {
		fatalInit(err)
	}

	if err := launcher.EnterJail(p); err != nil {
		fatalInit(err)
	}

	if p.Flags.PidsNS {
		runAsInit(p, args[0], args[1:])
		return nil
	}

	execTarget(args[0], args[1:])
	return nil
}

// runAsInit forks the grandchild that execs the real target and never
// returns: this process becomes pid 1 of the new pid namespace and lives
// out its life inside launcher.RunInit, reaping until the grandchild exits.
func runAsInit(p *policy.Policy, target string, targetArgs []string) {
	launcher.RunInit(p, func() (int, error) {
		pid, _, err := syscall.StartProcess(target, append([]string{target}, targetArgs...), &syscall.ProcAttr{
			Env:   os.Environ(),
			Files: []uintptr{0, 1, 2},
			Sys:   &syscall.SysProcAttr{Setsid: true},
		})
		if err != nil {
			return 0, err
		}
		return pid, nil
	})
}

func execTarget(target string, targetArgs []string) {
	argv := append([]string{target}, targetArgs...)
	if err := syscall.Exec(target, argv, os.Environ()); err != nil {
		fatalInit(sberrors.WrapSyscall(err, "jail_enter", "execve"))
	}
}

func fatalInit(err error) {
	logging.Error("jail entry failed", "error", err)
	os.Exit(launcher.ErrInit)
}
