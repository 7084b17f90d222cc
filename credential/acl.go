package credential

import (
	"fmt"
	"strconv"

	acl "github.com/joshlf/go-acl"
)

// hasACLWritePermission answers pathres's own long-standing "Consider
// adding ACL support" TODO: before falling back to a Deny on a plain DAC
// write-permission miss, consult the path's POSIX ACL for an explicit
// per-user or per-group write grant that the owner/group/other bits alone
// wouldn't show.
func hasACLWritePermission(path string, uid, gid uint32, sgid []uint32) (bool, error) {
	entries, err := acl.Get(path)
	if err != nil {
		return false, fmt.Errorf("credential: reading ACL for %s: %w", path, err)
	}

	uidStr := strconv.FormatUint(uint64(uid), 10)
	gidStr := strconv.FormatUint(uint64(gid), 10)

	for _, e := range entries {
		if e.Perms&0x2 == 0 {
			continue
		}
		switch e.Tag {
		case acl.TagUser, acl.TagUserObj:
			if e.Tag == acl.TagUserObj || e.Qualifier == uidStr {
				return true, nil
			}
		case acl.TagGroup, acl.TagGroupObj:
			if e.Tag == acl.TagGroupObj && e.Qualifier == gidStr {
				return true, nil
			}
			for _, g := range sgid {
				if e.Qualifier == strconv.FormatUint(uint64(g), 10) {
					return true, nil
				}
			}
		case acl.TagOther:
			return true, nil
		}
	}
	return false, nil
}
