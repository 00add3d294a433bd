// Package filehandler answers read-only questions about files addressed by
// FileID. Nothing is cached: every call goes back to the filesystem.
package filehandler

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

const DefaultMaxBlockSize = 16 << 20

// Entry is one directory listing item.
type Entry struct {
	FileID model.FileID `json:"file_id"`
	model.FileStats
}

type Resolver struct {
	scheme       string
	host         string
	roots        []string
	maxBlockSize int64
	logger       *logger.Logger
}

type Option func(*Resolver)

// WithRoots confines every lookup to the given directory trees.
func WithRoots(roots ...string) Option {
	return func(r *Resolver) {
		r.roots = append(r.roots, Roots(roots)...)
	}
}

func WithMaxBlockSize(size int64) Option {
	return func(r *Resolver) {
		if size > 0 {
			r.maxBlockSize = size
		}
	}
}

func WithLogger(lg *logger.Logger) Option {
	return func(r *Resolver) {
		if lg != nil {
			r.logger = lg
		}
	}
}

func NewResolver(scheme, host string, opts ...Option) *Resolver {
	r := &Resolver{
		scheme:       scheme,
		host:         host,
		maxBlockSize: DefaultMaxBlockSize,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Within reports whether path lies in one of roots. Any path is within an
// empty set of roots.
func Within(roots []string, path string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))) {
			return true
		}
	}
	return false
}

// Roots returns the absolute, symlink free form of each root. Roots that
// cannot be made absolute are skipped.
func Roots(paths []string) []string {
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if resolved, err := RealPath(abs, true); err == nil {
			abs = resolved
		}
		roots = append(roots, abs)
	}
	return roots
}

// RealPath resolves the symlinks in the absolute path. The last element is
// left alone unless follow is set. Trailing elements that do not exist are
// kept as they are.
func RealPath(path string, follow bool) (string, error) {
	path = filepath.Clean(path)
	if follow {
		return realExisting(path)
	}
	dir, base := filepath.Dir(path), filepath.Base(path)
	if dir == path {
		return realExisting(path)
	}
	resolved, err := realExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, base), nil
}

func realExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolved, err = realExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, filepath.Base(path)), nil
}

// FileID returns the identifier of the local path.
func (r *Resolver) FileID(path string) (model.FileID, error) {
	abs, err := r.local(path, false)
	if err != nil {
		return "", err
	}
	return model.NewFileID(r.scheme, r.host, filepath.ToSlash(abs)), nil
}

// Resolve maps id back to a local absolute path. The file itself may not
// exist anymore. Symlinks are followed when checking the roots.
func (r *Resolver) Resolve(id model.FileID) (string, error) {
	return r.resolve(id, true)
}

func (r *Resolver) resolve(id model.FileID, follow bool) (string, error) {
	scheme, host, p, err := id.Split()
	if err != nil {
		return "", err
	}
	if scheme != r.scheme {
		return "", errors.Join(model.ErrPath, fmt.Errorf("unsupported scheme %q", scheme))
	}
	if host != "" && r.host != "" && host != r.host {
		return "", errors.Join(model.ErrPath, fmt.Errorf("file id belongs to host %q", host))
	}
	return r.local(localPath(p), follow)
}

// localPath turns the path of a file id into a local one; on Windows
// "/C:/x" becomes "C:\x".
func localPath(p string) string {
	p = filepath.FromSlash(p)
	if len(p) > 1 && filepath.VolumeName(p[1:]) != "" {
		p = p[1:]
	}
	return p
}

// local checks path against the roots after resolving its symlinks, the
// last element only when follow is set. It returns the unresolved path.
func (r *Resolver) local(path string, follow bool) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.Join(model.ErrPath, errors.New("path is required"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Join(model.ErrPath, err)
	}
	if len(r.roots) == 0 {
		return abs, nil
	}
	resolved, err := RealPath(abs, follow)
	if err != nil {
		return "", errors.Join(model.ErrPath, err)
	}
	if !Within(r.roots, resolved) {
		return "", errors.Join(model.ErrPath, fmt.Errorf("%s is outside the monitored roots", abs))
	}
	return abs, nil
}

func (r *Resolver) lstat(id model.FileID) (string, os.FileInfo, error) {
	path, err := r.resolve(id, false)
	if err != nil {
		return "", nil, err
	}
	fi, err := os.Lstat(path)
	if err != nil {
		return "", nil, errors.Join(model.ErrPath, err)
	}
	return path, fi, nil
}

func (r *Resolver) Stats(id model.FileID) (model.FileStats, error) {
	defer account("stats")(-1)

	path, fi, err := r.lstat(id)
	if err != nil {
		return model.FileStats{}, err
	}
	return statsOf(path, fi), nil
}

func statsOf(path string, fi os.FileInfo) model.FileStats {
	ps := platformStat(path, fi)

	t := model.TypeUnknown
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		t = model.TypeLink
	case fi.IsDir() && ps.mount:
		t = model.TypeMount
	case fi.IsDir():
		t = model.TypeDir
	case fi.Mode().IsRegular():
		t = model.TypeFile
	}

	return model.FileStats{
		BaseName:   fi.Name(),
		Owner:      ps.owner,
		Size:       fi.Size(),
		ModifyTime: fi.ModTime(),
		CreateTime: ps.ctime,
		AccessTime: ps.atime,
		Type:       t,
	}
}

func (r *Resolver) Size(id model.FileID) (int64, error) {
	s, err := r.Stats(id)
	return s.Size, err
}

func (r *Resolver) Owner(id model.FileID) (string, error) {
	s, err := r.Stats(id)
	return s.Owner, err
}

func (r *Resolver) CTime(id model.FileID) (time.Time, error) {
	s, err := r.Stats(id)
	return s.CreateTime, err
}

func (r *Resolver) MTime(id model.FileID) (time.Time, error) {
	s, err := r.Stats(id)
	return s.ModifyTime, err
}

func (r *Resolver) ATime(id model.FileID) (time.Time, error) {
	s, err := r.Stats(id)
	return s.AccessTime, err
}

// IsDir follows symlinks, unlike Stats.
func (r *Resolver) IsDir(id model.FileID) (bool, error) {
	fi, err := r.stat(id)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (r *Resolver) IsFile(id model.FileID) (bool, error) {
	fi, err := r.stat(id)
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (r *Resolver) stat(id model.FileID) (os.FileInfo, error) {
	defer account("stat")(-1)

	path, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Join(model.ErrPath, err)
	}
	return fi, nil
}

// SHA1 returns the hex encoded SHA1 digest of the file content.
func (r *Resolver) SHA1(id model.FileID) (string, error) {
	bytes := -1
	defer func() { account("sha1")(bytes) }()

	path, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Join(model.ErrPath, err)
	}
	defer f.Close()

	h := sha1.New()
	n, err := io.Copy(h, f)
	if err != nil {
		r.logger.Warnf("resolver error :: sha1 of %s: %v", path, err)
		return "", errors.Join(model.ErrHash, err)
	}
	bytes = int(n)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadBlock returns up to size bytes starting at offset. Fewer bytes come
// back near the end of the file, none past it.
func (r *Resolver) ReadBlock(id model.FileID, offset, size int64) ([]byte, error) {
	bytes := -1
	defer func() { account("read")(bytes) }()

	if offset < 0 || size < 0 {
		return nil, errors.Join(model.ErrInvalidRequest, fmt.Errorf("invalid block offset %d size %d", offset, size))
	}
	if size > r.maxBlockSize {
		return nil, errors.Join(model.ErrInvalidRequest, fmt.Errorf("block size %d exceeds %d", size, r.maxBlockSize))
	}

	path, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(model.ErrPath, err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(model.ErrPath, err)
	}
	bytes = n
	return buf[:n], nil
}

// ListDir lists the entries of the directory at path whose base name
// matches pattern, a shell glob. An empty pattern matches everything.
func (r *Resolver) ListDir(path, pattern string) ([]Entry, error) {
	defer account("list")(-1)

	var g glob.Glob
	if pattern != "" {
		var err error
		if g, err = glob.Compile(pattern); err != nil {
			return nil, errors.Join(model.ErrInvalidRequest, fmt.Errorf("filter %q: %w", pattern, err))
		}
	}

	dir, err := r.local(path, true)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Join(model.ErrPath, err)
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if g != nil && !g.Match(de.Name()) {
			continue
		}
		full := filepath.Join(dir, de.Name())
		fi, err := os.Lstat(full)
		if err != nil {
			// removed while listing
			continue
		}
		entries = append(entries, Entry{
			FileID:    model.NewFileID(r.scheme, r.host, filepath.ToSlash(full)),
			FileStats: statsOf(full, fi),
		})
	}
	return entries, nil
}
