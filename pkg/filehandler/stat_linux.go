package filehandler

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

type platformStats struct {
	owner string
	atime time.Time
	ctime time.Time
	mount bool
}

func platformStat(path string, fi os.FileInfo) platformStats {
	ps := platformStats{atime: fi.ModTime(), ctime: fi.ModTime()}

	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return ps
	}
	ps.owner = ownerName(st.Uid)
	ps.atime = time.Unix(st.Atim.Unix())
	ps.ctime = time.Unix(st.Ctim.Unix())

	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err == nil && stx.Mask&unix.STATX_BTIME != 0 {
		ps.ctime = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}

	if fi.IsDir() {
		ps.mount = isMountPoint(path, uint64(st.Dev))
	}
	return ps
}

func isMountPoint(path string, dev uint64) bool {
	parent := filepath.Dir(path)
	if parent == path {
		return true
	}
	var st unix.Stat_t
	if err := unix.Stat(parent, &st); err != nil {
		return false
	}
	return uint64(st.Dev) != dev
}

func ownerName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}
