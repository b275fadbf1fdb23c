package pathresolve

import (
	"strings"

	"kernelfs/internal/defs"
	"kernelfs/internal/inode"
)

// Opener is the minimal filesystem surface path resolution needs: the
// root directory's inode, and open/close for intermediate directory
// inodes visited along the way.
type Opener interface {
	Root() *inode.Inode
	Open(sector int) *inode.Inode
	Close(ino *inode.Inode)
}

// Resolve walks path: absolute paths start at the root directory,
// relative paths start at cwd. It returns the directory inode
// containing the final component and the final component's name, leaving
// creation, opening, or deletion of that name to the caller.
//
// The returned *inode.Inode is an additional open reference the caller
// must eventually Close through opn, UNLESS it is exactly the same
// pointer as cwd or opn.Root() — Resolve never closes either of those on
// the caller's behalf.
func Resolve(opn Opener, path string, cwd *inode.Inode) (*inode.Inode, string, defs.Err_t) {
	if path == "" {
		return nil, "", -defs.EINVAL
	}
	if path == "/" {
		return opn.Root(), ".", 0
	}

	absolute := strings.HasPrefix(path, "/")
	raw := strings.Split(path, "/")
	var comps []string
	for _, c := range raw {
		if c != "" {
			comps = append(comps, c)
		}
	}
	if len(comps) == 0 {
		return nil, "", -defs.EINVAL
	}

	cur := cwd
	if absolute {
		cur = opn.Root()
	}
	owned := false

	for _, comp := range comps[:len(comps)-1] {
		if !cur.IsDir() {
			if owned {
				opn.Close(cur)
			}
			return nil, "", -defs.ENOTDIR
		}
		sector, ok := Lookup(cur, comp)
		if !ok {
			if owned {
				opn.Close(cur)
			}
			return nil, "", -defs.ENOENT
		}
		next := opn.Open(sector)
		if owned {
			opn.Close(cur)
		}
		if !next.IsDir() {
			opn.Close(next)
			return nil, "", -defs.ENOTDIR
		}
		cur = next
		owned = true
	}

	return cur, comps[len(comps)-1], 0
}
