// Package handler implements request dispatch: a stateless handler
// shared across all sessions, holding only the sandboxed file-operations
// capability, that turns one Request plus the caller's current directory
// into a Response.
package handler

import (
	"fmt"
	"path"
	"strings"

	"github.com/fenrisnet/fenris/internal/fileops"
	"github.com/fenrisnet/fenris/internal/wire"
)

// RequestHandler dispatches requests against a sandboxed file-operations
// capability. It holds no per-client state; current_dir is owned by the
// caller and passed in by pointer.
type RequestHandler struct {
	ops fileops.FileOperations
}

// New constructs a RequestHandler over the given sandbox.
func New(ops fileops.FileOperations) *RequestHandler {
	return &RequestHandler{ops: ops}
}

// ProcessRequest is the handler's single entry point. Terminate is not
// dispatched here — the connection task intercepts it before calling
// ProcessRequest.
func (h *RequestHandler) ProcessRequest(clientID string, req *wire.Request, currentDir *string) *wire.Response {
	switch req.Command {
	case wire.Ping:
		return &wire.Response{Type: wire.Pong, Success: true}
	case wire.ChangeDir:
		return h.changeDir(req, currentDir)
	case wire.CreateFile:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			abs, err := h.ops.CreateFile(rel)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("File created: %s", abs))
		})
	case wire.ReadFile:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			data, _, err := h.ops.ReadFile(rel)
			if err != nil {
				return errorResponse(err)
			}
			return &wire.Response{Type: wire.FileContent, Success: true, Data: data}
		})
	case wire.WriteFile:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			_, n, err := h.ops.WriteFile(rel, req.Data)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("File written: %d bytes", n))
		})
	case wire.AppendFile:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			abs, n, err := h.ops.AppendFile(rel, req.Data)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("Appended %d bytes to %s", n, abs))
		})
	case wire.UploadFile:
		// identical to WriteFile
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			abs, n, err := h.ops.WriteFile(rel, req.Data)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("Uploaded %d bytes to %s", n, abs))
		})
	case wire.DeleteFile:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			abs, err := h.ops.DeleteFile(rel)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("File deleted: %s", abs))
		})
	case wire.InfoFile:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			meta, err := h.ops.FileInfo(rel)
			if err != nil {
				return errorResponse(err)
			}
			info := wire.FileInfo{
				Name:         meta.Name,
				Size:         meta.Size,
				IsDirectory:  meta.IsDirectory,
				ModifiedTime: meta.ModifiedTime,
				Permissions:  meta.Permissions,
			}
			return &wire.Response{Type: wire.FileInfoKind, Success: true, Info: &info}
		})
	case wire.CreateDir:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			abs, err := h.ops.CreateDir(rel)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("Directory created: %s", abs))
		})
	case wire.ListDir:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			entries, err := h.ops.ListDir(rel)
			if err != nil {
				return errorResponse(err)
			}
			listing := wire.DirectoryListing{Entries: make([]wire.FileInfo, len(entries))}
			for i, meta := range entries {
				listing.Entries[i] = wire.FileInfo{
					Name:         meta.Name,
					Size:         meta.Size,
					IsDirectory:  meta.IsDirectory,
					ModifiedTime: meta.ModifiedTime,
					Permissions:  meta.Permissions,
				}
			}
			return &wire.Response{Type: wire.DirListing, Success: true, Listing: &listing}
		})
	case wire.DeleteDir:
		return h.withPath(req, currentDir, func(rel string) *wire.Response {
			abs, err := h.ops.DeleteDir(rel)
			if err != nil {
				return errorResponse(err)
			}
			return successResponse(fmt.Sprintf("Directory deleted: %s", abs))
		})
	default:
		return &wire.Response{Type: wire.Error, Success: false, ErrorMessage: "Invalid request type"}
	}
}

// withPath resolves req.Filename against *currentDir with the handler's
// path-resolution rule, then runs fn with the resolved relative path.
func (h *RequestHandler) withPath(req *wire.Request, currentDir *string, fn func(rel string) *wire.Response) *wire.Response {
	return fn(resolveRequestPath(req.Filename, *currentDir))
}

// resolveRequestPath applies the handler's own path-resolution rule,
// distinct from the sandbox rewrite inside the file-ops layer: empty or
// "." means currentDir; a leading "/" is an absolute path the sandbox
// will re-anchor; otherwise it's joined onto currentDir.
func resolveRequestPath(name, currentDir string) string {
	if name == "" || name == "." {
		return currentDir
	}
	if strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(currentDir, name)
}

// changeDir implements the ChangeDir special cases: "~" and "" reset to
// root, "." is a no-op, ".." walks up one level, and everything else is
// resolved relative to currentDir unless it starts with "/".
func (h *RequestHandler) changeDir(req *wire.Request, currentDir *string) *wire.Response {
	target := resolveChangeDirTarget(req.Filename, *currentDir)

	isDir, err := h.ops.IsDir(target)
	if err != nil {
		return errorResponse(err)
	}
	if !isDir {
		return &wire.Response{Type: wire.Error, Success: false, ErrorMessage: "Not a directory"}
	}

	*currentDir = target
	return &wire.Response{Type: wire.ChangedDir, Success: true, Data: []byte(target)}
}

func resolveChangeDirTarget(name, currentDir string) string {
	switch {
	case name == "" || name == "~":
		return "/"
	case name == ".":
		return currentDir
	case name == "..":
		if currentDir == "/" {
			return "/"
		}
		return path.Dir(currentDir)
	case strings.HasPrefix(name, "/"):
		return path.Clean(name)
	default:
		return path.Join(currentDir, name)
	}
}

func successResponse(msg string) *wire.Response {
	return &wire.Response{Type: wire.Success, Success: true, Data: []byte(msg)}
}

func errorResponse(err error) *wire.Response {
	return &wire.Response{Type: wire.Error, Success: false, ErrorMessage: err.Error()}
}
