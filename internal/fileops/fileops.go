// Package fileops implements the sandboxed file-operations capability
// every request handler call goes through: every path is resolved and
// canonicalized relative to a fixed base directory, and anything that
// resolves outside it is rejected before touching the filesystem.
package fileops

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fenrisnet/fenris/internal/ferr"
	"github.com/fenrisnet/fenris/internal/ratelimit"
)

// FileMetadata describes one filesystem entry. Permissions carry POSIX
// mode bits on POSIX hosts and a synthesized read-only approximation
// elsewhere (0o644/0o444); callers should treat the field as advisory.
type FileMetadata struct {
	Name         string
	Size         uint64
	IsDirectory  bool
	ModifiedTime uint64
	Permissions  uint32
}

// FileOperations is the sandboxed capability the request handler holds.
// Every method resolves its path argument against BaseDir per the rule
// in resolvePath and rejects escapes with a FileOperationError.
type FileOperations interface {
	CreateFile(path string) (string, error)
	ReadFile(path string) ([]byte, string, error)
	WriteFile(path string, data []byte) (string, int, error)
	AppendFile(path string, data []byte) (string, int, error)
	DeleteFile(path string) (string, error)
	FileInfo(path string) (FileMetadata, error)
	CreateDir(path string) (string, error)
	ListDir(path string) ([]FileMetadata, error)
	DeleteDir(path string) (string, error)
	Exists(path string) (bool, error)
	IsDir(path string) (bool, error)
	IsFile(path string) (bool, error)
	ResolveAbs(path string) (string, error)
}

// DefaultFileOperations is the production FileOperations backed by the
// real filesystem, rooted at BaseDir. RateLimitBytesPerSec, if positive,
// throttles WriteFile/AppendFile payload writes; it never changes byte
// counts or Success messages.
type DefaultFileOperations struct {
	BaseDir              string
	RateLimitBytesPerSec int64
}

// NewDefaultFileOperations constructs a sandbox rooted at an absolute,
// already-existing base directory.
func NewDefaultFileOperations(baseDir string) (*DefaultFileOperations, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindFileOperation, "resolve base directory", err)
	}
	canon, err := canonicalizeExisting(abs)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindFileOperation, "canonicalize base directory", err)
	}
	return &DefaultFileOperations{BaseDir: canon}, nil
}

// throttledWriter wraps w with the configured rate limiter, or returns w
// unchanged when no limit is configured.
func (f *DefaultFileOperations) throttledWriter(w io.Writer) io.Writer {
	if f.RateLimitBytesPerSec <= 0 {
		return w
	}
	return ratelimit.NewWriter(context.Background(), w, f.RateLimitBytesPerSec)
}

// resolvePath applies a four-step resolution:
//  1. strip a leading "/"
//  2. join with BaseDir
//  3. canonicalize (resolving ".." and symlinks); if the target does not
//     exist, canonicalize the parent and re-append the filename
//  4. reject anything whose canonical form is not BaseDir or under it
func (f *DefaultFileOperations) resolvePath(path string) (string, error) {
	stripped := strings.TrimPrefix(path, "/")
	joined := filepath.Join(f.BaseDir, stripped)

	canon, err := canonicalize(joined)
	if err != nil {
		return "", ferr.Wrap(ferr.KindFileOperation, "canonicalize path", err)
	}

	if canon != f.BaseDir && !strings.HasPrefix(canon, f.BaseDir+string(filepath.Separator)) {
		return "", ferr.New(ferr.KindFileOperation, "Path outside base directory")
	}
	return canon, nil
}

// canonicalize resolves symlinks and ".."/"." for a path that may not
// exist yet: if the full path is missing, it canonicalizes the nearest
// existing ancestor and re-appends the missing suffix.
func canonicalize(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return filepath.Clean(resolved), nil
	}

	clean := filepath.Clean(path)
	dir, name := filepath.Split(clean)
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" {
		dir = string(filepath.Separator)
	}

	resolvedDir, err := canonicalize(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, name), nil
}

func canonicalizeExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// ResolveAbs exposes path resolution for callers that only need the
// canonical absolute path (used by the request handler for messages like
// "File created: {abs}").
func (f *DefaultFileOperations) ResolveAbs(path string) (string, error) {
	return f.resolvePath(path)
}

func (f *DefaultFileOperations) CreateFile(path string) (string, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", ferr.Wrap(ferr.KindFileOperation, "create parent directory", err)
	}
	file, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", ferr.Wrap(ferr.KindFileOperation, "create file", err)
	}
	file.Close()
	return abs, nil
}

func (f *DefaultFileOperations) ReadFile(path string) ([]byte, string, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, "", ferr.Wrap(ferr.KindFileOperation, "read file", err)
	}
	return data, abs, nil
}

func (f *DefaultFileOperations) WriteFile(path string, data []byte) (string, int, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", 0, ferr.Wrap(ferr.KindFileOperation, "create parent directory", err)
	}
	file, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, ferr.Wrap(ferr.KindFileOperation, "open file for write", err)
	}
	defer file.Close()
	n, err := f.throttledWriter(file).Write(data)
	if err != nil {
		return "", 0, ferr.Wrap(ferr.KindFileOperation, "write file", err)
	}
	return abs, n, nil
}

func (f *DefaultFileOperations) AppendFile(path string, data []byte) (string, int, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", 0, ferr.Wrap(ferr.KindFileOperation, "create parent directory", err)
	}
	file, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", 0, ferr.Wrap(ferr.KindFileOperation, "open file for append", err)
	}
	defer file.Close()
	n, err := f.throttledWriter(file).Write(data)
	if err != nil {
		return "", 0, ferr.Wrap(ferr.KindFileOperation, "append to file", err)
	}
	return abs, n, nil
}

func (f *DefaultFileOperations) DeleteFile(path string) (string, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.Remove(abs); err != nil {
		return "", ferr.Wrap(ferr.KindFileOperation, "delete file", err)
	}
	return abs, nil
}

func (f *DefaultFileOperations) FileInfo(path string) (FileMetadata, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return FileMetadata{}, err
	}
	return statMetadata(abs)
}

func (f *DefaultFileOperations) CreateDir(path string) (string, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", ferr.Wrap(ferr.KindFileOperation, "create directory", err)
	}
	return abs, nil
}

func (f *DefaultFileOperations) ListDir(path string) ([]FileMetadata, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return nil, err
	}
	dir, err := os.Open(abs)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindFileOperation, "list directory", err)
	}
	entries, err := dir.ReadDir(-1)
	dir.Close()
	if err != nil {
		return nil, ferr.Wrap(ferr.KindFileOperation, "list directory", err)
	}

	// Entries are returned in directory order, not sorted. Clients that
	// want deterministic ordering sort on receipt.
	metas := make([]FileMetadata, 0, len(entries))
	for _, entry := range entries {
		meta, err := statMetadata(filepath.Join(abs, entry.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (f *DefaultFileOperations) DeleteDir(path string) (string, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.Remove(abs); err != nil {
		return "", ferr.Wrap(ferr.KindFileOperation, "delete directory", err)
	}
	return abs, nil
}

func (f *DefaultFileOperations) Exists(path string) (bool, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ferr.Wrap(ferr.KindFileOperation, "stat path", err)
}

func (f *DefaultFileOperations) IsDir(path string) (bool, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ferr.Wrap(ferr.KindFileOperation, "stat path", err)
	}
	return info.IsDir(), nil
}

func (f *DefaultFileOperations) IsFile(path string) (bool, error) {
	abs, err := f.resolvePath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ferr.Wrap(ferr.KindFileOperation, "stat path", err)
	}
	return !info.IsDir(), nil
}

func statMetadata(abs string) (FileMetadata, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return FileMetadata{}, ferr.Wrap(ferr.KindFileOperation, "stat path", err)
	}
	return FileMetadata{
		Name:         info.Name(),
		Size:         uint64(info.Size()),
		IsDirectory:  info.IsDir(),
		ModifiedTime: uint64(info.ModTime().Unix()),
		Permissions:  synthesizePermissions(info),
	}, nil
}

// synthesizePermissions returns the host's permission bits (the low nine
// bits of the mode). On Windows, which has no POSIX modes, it synthesizes
// 0o444 for read-only entries and 0o644 for writable ones.
func synthesizePermissions(info os.FileInfo) uint32 {
	perm := uint32(info.Mode().Perm())
	if runtime.GOOS == "windows" {
		if perm&0o200 == 0 {
			return 0o444
		}
		return 0o644
	}
	return perm
}
