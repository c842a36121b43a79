package policy

// PreexecStrip returns a copy of p's flags as they must read in the child
// immediately before execve: everything is cleared except what survives the
// exec or must be re-applied afterward by the dynamically-linked target's
// own startup path (vfs_ns and readonly_remount have already happened by
// this point and are recorded only for introspection; the resource-limit
// flags and meta_file carry through so post-exec code can still observe
// them).
func PreexecStrip(f Flags) Flags {
	return Flags{
		VfsNS:           f.VfsNS,
		ReadonlyRemount: f.ReadonlyRemount,
		StackLimit:      f.StackLimit,
		TimeLimitMs:     f.TimeLimitMs,
		OutputLimit:     f.OutputLimit,
		MemoryLimit:     f.MemoryLimit,
		MetaFile:        f.MetaFile,
	}
}

// PreenterStrip returns a copy of p's flags as a dynamically-linked target's
// post-exec setup should see them: the namespace and chroot steps have
// already run in the statically-linked jail-entry path (or don't apply),
// so they're cleared to prevent a second attempt.
func PreenterStrip(f Flags) Flags {
	f.VfsNS = false
	f.ReadonlyRemount = false
	f.PidsNS = false
	f.Chroot = false
	return f
}
