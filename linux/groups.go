package linux

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// lookupSupplementaryGroups returns the primary gid followed by every group
// in /etc/group that lists user as a member, mirroring what initgroups(3)
// would install via NSS in the common /etc/group-backed case.
func lookupSupplementaryGroups(user string, primaryGID uint32) ([]int, error) {
	return parseSupplementaryGroups("/etc/group", user, primaryGID)
}

func parseSupplementaryGroups(groupFile, user string, primaryGID uint32) ([]int, error) {
	groups := []int{int(primaryGID)}

	f, err := os.Open(groupFile)
	if err != nil {
		return groups, nil // no group database to consult; primary gid only.
	}
	defer f.Close()

	seen := map[int]bool{int(primaryGID): true}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		members := strings.Split(fields[3], ",")
		for _, m := range members {
			if m == user && !seen[gid] {
				groups = append(groups, gid)
				seen[gid] = true
			}
		}
	}
	return groups, nil
}
