//go:build !unix

package walker

import (
	"hash/fnv"
	"os"

	"github.com/duplisweep/duplisweep/internal/model"
)

// identityOf has no (device, inode) concept outside unix-like platforms.
// Hardlink coalescence is therefore unavailable there; each path is given a
// distinct synthetic identity (derived from its own name, not its content)
// so unrelated files are never mistaken for hardlinks of one another. This
// is the documented Windows limitation from spec.md §11.
func identityOf(path string, fi os.FileInfo) model.Identity {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return model.Identity{Device: 0, Inode: h.Sum64()}
}
