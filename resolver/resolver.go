// Package resolver computes the host-visible path that corresponds to a
// path in the jail's view, through the bind-mount table and chroot.
package resolver

import (
	"os"
	"strings"

	sberrors "minibox/errors"
	"minibox/policy"
)

// MaxSymlinkDepth bounds the resolver's iterative symlink-following loop.
// The wire spec leaves this unspecified beyond "add an explicit cap"; 40
// matches Linux's own MAXSYMLINKS.
const MaxSymlinkDepth = 40

// Resolve computes the host path corresponding to target, as seen from
// inside the jail described by p. Relative targets are anchored on
// chdir_in_jail if set, else "/" if chrooted, else the process's cwd.
func Resolve(p *policy.Policy, target string) (string, error) {
	anchored := anchor(p, target)
	normalized := normalize(anchored)
	hostPath := applyBindingPrefix(p, normalized)
	return followSymlinks(hostPath)
}

func anchor(p *policy.Policy, target string) string {
	if strings.HasPrefix(target, "/") {
		return target
	}
	base := "/"
	switch {
	case p.Flags.Chdir && p.ChdirInJail != "":
		base = p.ChdirInJail
	case p.Flags.Chroot:
		base = "/"
	default:
		if cwd, err := os.Getwd(); err == nil {
			base = cwd
		}
	}
	return joinPath(base, target)
}

// normalize concatenates path segments with "/" deduplication. It does not
// resolve ".." — that's left to the underlying filesystem once the host
// path is opened.
func normalize(p string) string {
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return "/" + strings.Join(out, "/")
}

func joinPath(base, rel string) string {
	if strings.HasSuffix(base, "/") {
		return base + rel
	}
	return base + "/" + rel
}

// applyBindingPrefix finds the binding whose Dest is the longest prefix of
// normalized and replaces that prefix with the binding's Src. If no binding
// matches, it falls back to chrootdir (or "/" if unset).
func applyBindingPrefix(p *policy.Policy, normalized string) string {
	var best *policy.Binding
	bestLen := -1
	for i := range p.Bindings {
		b := &p.Bindings[i]
		if isPrefix(b.Dest, normalized) && len(b.Dest) > bestLen {
			best = b
			bestLen = len(b.Dest)
		}
	}

	if best == nil {
		root := p.ChrootDir
		if root == "" {
			root = "/"
		}
		return joinPath(strings.TrimSuffix(root, "/"), strings.TrimPrefix(normalized, "/"))
	}

	suffix := strings.TrimPrefix(normalized, best.Dest)
	src := strings.TrimSuffix(best.Src, "/")
	if suffix == "" {
		return src
	}
	return src + suffix
}

// isPrefix reports whether dest is a path-segment prefix of normalized
// (e.g. "/a" is a prefix of "/a/b" and of "/a" itself, but not of "/ab").
func isPrefix(dest, normalized string) bool {
	dest = strings.TrimSuffix(dest, "/")
	if dest == "" {
		dest = "/"
	}
	if dest == "/" {
		return true
	}
	if normalized == dest {
		return true
	}
	return strings.HasPrefix(normalized, dest+"/")
}

// followSymlinks lstats hostPath; if it's a regular file, it's done. If a
// symlink, it reads the link and recurses, bounded by MaxSymlinkDepth to
// terminate on a cycle. Any other file type fails.
func followSymlinks(hostPath string) (string, error) {
	current := hostPath
	for depth := 0; depth < MaxSymlinkDepth; depth++ {
		fi, err := os.Lstat(current)
		if err != nil {
			return "", sberrors.Wrap(err, sberrors.ErrTargetInaccessible, "resolve")
		}

		switch {
		case fi.Mode().IsRegular():
			return current, nil
		case fi.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(current)
			if err != nil {
				return "", sberrors.Wrap(err, sberrors.ErrTargetInaccessible, "resolve")
			}
			if strings.HasPrefix(link, "/") {
				current = link
			} else {
				current = joinPath(dirOf(current), link)
			}
		default:
			return "", sberrors.ErrNotRegularFile
		}
	}
	return "", sberrors.ErrSymlinkCycle
}

func dirOf(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}
