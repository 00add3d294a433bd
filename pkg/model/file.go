package model

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// FileID identifies a file as scheme://host/path/to/file. It stays meaningful
// only as long as the file is not deleted or moved.
type FileID string

// NewFileID builds the identifier of an absolute, slash separated path.
func NewFileID(scheme, host, absPath string) FileID {
	p := path.Clean("/" + strings.TrimPrefix(absPath, "/"))
	u := url.URL{Scheme: scheme, Host: host, Path: p}
	return FileID(u.String())
}

// Split returns the scheme, host and absolute path encoded in id.
func (id FileID) Split() (scheme, host, p string, err error) {
	u, err := url.Parse(string(id))
	if err != nil {
		return "", "", "", errors.Join(ErrPath, err)
	}
	if u.Scheme == "" || u.Path == "" {
		return "", "", "", errors.Join(ErrPath, fmt.Errorf("malformed file id %q", string(id)))
	}
	return u.Scheme, u.Host, path.Clean(u.Path), nil
}

type FileType int

const (
	TypeUnknown FileType = iota
	TypeFile
	TypeDir
	TypeLink
	TypeMount
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "File"
	case TypeDir:
		return "Dir"
	case TypeLink:
		return "Link"
	case TypeMount:
		return "Mount"
	}
	return "Unknown"
}

func (t FileType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *FileType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "File":
		*t = TypeFile
	case "Dir":
		*t = TypeDir
	case "Link":
		*t = TypeLink
	case "Mount":
		*t = TypeMount
	default:
		*t = TypeUnknown
	}
	return nil
}

// FileStats is computed on every request and never cached.
type FileStats struct {
	BaseName   string    `json:"base_name"`
	Owner      string    `json:"owner"`
	Size       int64     `json:"size"`
	ModifyTime time.Time `json:"mtime"`
	CreateTime time.Time `json:"ctime"`
	AccessTime time.Time `json:"atime"`
	Type       FileType  `json:"type"`
}

func (f FileStats) String() string {
	return fmt.Sprintf("file stats :: name: %s, type: %s, owner: %s, size: %d, modified_at: %v",
		f.BaseName, f.Type, f.Owner, f.Size, f.ModifyTime)
}
