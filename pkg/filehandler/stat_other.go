//go:build !linux

package filehandler

import (
	"os"
	"time"
)

type platformStats struct {
	owner string
	atime time.Time
	ctime time.Time
	mount bool
}

// Only the modification time is portable; the others fall back to it.
func platformStat(_ string, fi os.FileInfo) platformStats {
	return platformStats{atime: fi.ModTime(), ctime: fi.ModTime()}
}
