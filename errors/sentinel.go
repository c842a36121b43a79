// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Policy build errors.
var (
	// ErrEmptyTarget indicates no target executable was given to the launcher.
	ErrEmptyTarget = &SandboxError{
		Kind:   ErrBadArgument,
		Detail: "target executable required",
	}

	// ErrNonAbsoluteBindDest indicates a binding's destination is not absolute.
	ErrNonAbsoluteBindDest = &SandboxError{
		Kind:   ErrBadArgument,
		Detail: "binding destination must be absolute",
	}

	// ErrChdirWithoutChroot indicates chdir_in_jail was set without chrootdir.
	ErrChdirWithoutChroot = &SandboxError{
		Kind:   ErrBadArgument,
		Detail: "chdir_in_jail requires chrootdir to be set",
	}

	// ErrChdirNotAbsolute indicates chdir_in_jail is not an absolute path.
	ErrChdirNotAbsolute = &SandboxError{
		Kind:   ErrBadArgument,
		Detail: "chdir_in_jail must be absolute",
	}

	// ErrFilterTooLarge indicates the BPF program exceeds the instruction cap.
	ErrFilterTooLarge = &SandboxError{
		Kind:   ErrBadArgument,
		Detail: "seccomp filter program exceeds 65535 instructions",
	}
)

// Marshaller errors.
var (
	// ErrTruncatedBuffer indicates the unmarshal buffer ended before a fixed record did.
	ErrTruncatedBuffer = &SandboxError{
		Kind:   ErrMalformedStream,
		Detail: "truncated buffer",
	}

	// ErrMissingNUL indicates a string section had no NUL terminator before the buffer ended.
	ErrMissingNUL = &SandboxError{
		Kind:   ErrMalformedStream,
		Detail: "missing NUL terminator in string section",
	}

	// ErrInstructionCountExceeded indicates the BPF instruction count exceeds the derived cap.
	ErrInstructionCountExceeded = &SandboxError{
		Kind:   ErrMalformedStream,
		Detail: "instruction count exceeds buffer-derived cap",
	}
)

// Launch / jail-entry errors.
var (
	// ErrPartialPrivilegeDrop indicates a privilege-drop syscall failed after others
	// already succeeded; the process must not proceed under uncertain privilege.
	ErrPartialPrivilegeDrop = &SandboxError{
		Kind:   ErrSystemCallFailed,
		Detail: "partial privilege drop, aborting",
	}

	// ErrSeccompInstall indicates the BPF filter failed to load.
	ErrSeccompInstall = &SandboxError{
		Kind:   ErrSystemCallFailed,
		Detail: "failed to install seccomp filter",
	}

	// ErrFDLeak indicates a pipe end was not closed on the expected side of fork.
	ErrFDLeak = &SandboxError{
		Kind:   ErrInitFailure,
		Detail: "file descriptor leaked across fork",
	}
)

// Resolver errors.
var (
	// ErrSymlinkCycle indicates the resolver's depth cap was hit while following symlinks.
	ErrSymlinkCycle = &SandboxError{
		Kind:   ErrTargetInaccessible,
		Detail: "symlink cycle or excessive depth",
	}

	// ErrNotRegularFile indicates the resolved path is neither a regular file nor a symlink.
	ErrNotRegularFile = &SandboxError{
		Kind:   ErrTargetInaccessible,
		Detail: "resolved path is not a regular file",
	}
)

// Init supervisor errors.
var (
	// ErrInitReap indicates the init supervisor's reap loop failed unexpectedly.
	ErrInitReap = &SandboxError{
		Kind:   ErrInitFailure,
		Detail: "init supervisor reap loop failed",
	}

	// ErrMetaSinkWrite indicates writing the meta-file failed.
	ErrMetaSinkWrite = &SandboxError{
		Kind:   ErrInitFailure,
		Detail: "failed to write meta sink",
	}
)
