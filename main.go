// minibox launches a single target process into a jail: chroot and bind
// mounts, capability and uid/gid drop, seccomp installation, resource
// limits, and optional pid-namespace supervision.
//
// Commands:
//
//	run        - launch a target under a sandbox policy
//	version    - print build information
//	jail-enter - internal command, the re-exec entrypoint for jail setup
package main

import (
	"fmt"
	"os"

	"minibox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
