package linux

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	sberrors "minibox/errors"
)

// LookupUser resolves a "-u" argument to a uid/gid pair. A purely numeric
// name is taken as a uid directly, with gid 0, matching common sandbox-CLI
// convention of accepting either a name or a bare number. Otherwise it is
// looked up by name in /etc/passwd.
func LookupUser(name string) (uid, gid uint32, err error) {
	if n, convErr := strconv.ParseUint(name, 10, 32); convErr == nil {
		return uint32(n), 0, nil
	}
	return parseUserEntry("/etc/passwd", name)
}

// LookupGroup resolves a "-g" argument to a gid. A purely numeric name is
// taken as a gid directly; otherwise it is looked up by name in /etc/group.
func LookupGroup(name string) (gid uint32, err error) {
	if n, convErr := strconv.ParseUint(name, 10, 32); convErr == nil {
		return uint32(n), nil
	}
	return parseGroupEntry("/etc/group", name)
}

func parseUserEntry(passwdFile, user string) (uid, gid uint32, err error) {
	f, openErr := os.Open(passwdFile)
	if openErr != nil {
		return 0, 0, sberrors.Wrap(openErr, sberrors.ErrBadArgument, "lookup_user")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 || fields[0] != user {
			continue
		}
		uidVal, uidErr := strconv.ParseUint(fields[2], 10, 32)
		if uidErr != nil {
			continue
		}
		gidVal, gidErr := strconv.ParseUint(fields[3], 10, 32)
		if gidErr != nil {
			continue
		}
		return uint32(uidVal), uint32(gidVal), nil
	}
	return 0, 0, sberrors.New(sberrors.ErrBadArgument, "lookup_user", "no such user: "+user)
}

func parseGroupEntry(groupFile, group string) (gid uint32, err error) {
	f, openErr := os.Open(groupFile)
	if openErr != nil {
		return 0, sberrors.Wrap(openErr, sberrors.ErrBadArgument, "lookup_group")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] != group {
			continue
		}
		gidVal, gidErr := strconv.ParseUint(fields[2], 10, 32)
		if gidErr != nil {
			continue
		}
		return uint32(gidVal), nil
	}
	return 0, sberrors.New(sberrors.ErrBadArgument, "lookup_group", "no such group: "+group)
}
