//go:build unix

package walker

import (
	"os"
	"syscall"

	"github.com/duplisweep/duplisweep/internal/model"
)

// identityOf extracts the (device, inode) pair backing hardlink detection,
// per spec.md §4.3. syscall.Stat_t is the same struct golang.org/x/sys/unix
// wraps; used directly here since os.FileInfo.Sys() already returns it.
func identityOf(path string, fi os.FileInfo) model.Identity {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return model.Identity{}
	}
	return model.Identity{Device: uint64(st.Dev), Inode: uint64(st.Ino)}
}
