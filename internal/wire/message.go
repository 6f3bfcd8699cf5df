package wire

import (
	"encoding/binary"
	"fmt"
)

// detailsTag discriminates the oneof carried in Response.Details.
type detailsTag uint8

const (
	detailsNone detailsTag = iota
	detailsFileInfo
	detailsDirectoryListing
)

// Request is one client-issued operation against the server's sandboxed
// base directory.
type Request struct {
	Command RequestKind
	// Filename is interpreted relative to the session's current
	// directory unless it begins with "/"; empty or "." means the
	// current directory.
	Filename string
	// IPAddr is reserved for wire compatibility with the original
	// protocol; the core assigns no semantics to it.
	IPAddr uint32
	Data   []byte
}

// FileInfo describes one filesystem entry.
type FileInfo struct {
	Name         string
	Size         uint64
	IsDirectory  bool
	ModifiedTime uint64
	Permissions  uint32
}

// DirectoryListing is the ordered set of entries returned by ListDir.
// Order is filesystem-enumeration order; it is not sorted.
type DirectoryListing struct {
	Entries []FileInfo
}

// Response is the server's reply to a Request.
type Response struct {
	Type         ResponseKind
	Success      bool
	ErrorMessage string
	Data         []byte

	// Exactly one of these is populated, selected by which ResponseKind
	// is set; both nil for all other response kinds.
	Info    *FileInfo
	Listing *DirectoryListing
}

// ---------------------------------------------------------------------
// Encoding: a small self-delimiting binary format. Every variable-length
// field is prefixed with its length so a reader never needs to guess
// where a field ends, rather than reaching for a schema compiler for a
// half-dozen fixed message shapes.
// ---------------------------------------------------------------------

func putUint32String(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func putUint32Bytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func readUint32String(buf []byte) (string, []byte, error) {
	b, rest, err := readUint32Bytes(buf)
	if err != nil {
		return "", nil, err
	}
	return string(b), rest, nil
}

func readUint32Bytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("wire: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, fmt.Errorf("wire: truncated field, want %d bytes have %d", n, len(buf))
	}
	return buf[:n], buf[n:], nil
}

// Encode serializes a Request to its wire form.
func (r *Request) Encode() []byte {
	buf := make([]byte, 0, 4+4+len(r.Filename)+4+4+len(r.Data))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(r.Command))
	buf = append(buf, tmp[:]...)
	buf = putUint32String(buf, r.Filename)
	binary.BigEndian.PutUint32(tmp[:], r.IPAddr)
	buf = append(buf, tmp[:]...)
	buf = putUint32Bytes(buf, r.Data)
	return buf
}

// DecodeRequest parses a Request from its wire form.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("wire: request too short")
	}
	command := RequestKind(int32(binary.BigEndian.Uint32(buf[:4])))
	buf = buf[4:]

	filename, buf, err := readUint32String(buf)
	if err != nil {
		return nil, fmt.Errorf("wire: decode request filename: %w", err)
	}

	if len(buf) < 4 {
		return nil, fmt.Errorf("wire: request missing ip_addr")
	}
	ipAddr := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]

	data, _, err := readUint32Bytes(buf)
	if err != nil {
		return nil, fmt.Errorf("wire: decode request data: %w", err)
	}

	return &Request{
		Command:  command,
		Filename: filename,
		IPAddr:   ipAddr,
		Data:     data,
	}, nil
}

func encodeFileInfo(buf []byte, fi *FileInfo) []byte {
	buf = putUint32String(buf, fi.Name)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], fi.Size)
	buf = append(buf, tmp8[:]...)
	if fi.IsDirectory {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	binary.BigEndian.PutUint64(tmp8[:], fi.ModifiedTime)
	buf = append(buf, tmp8[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], fi.Permissions)
	buf = append(buf, tmp4[:]...)
	return buf
}

func decodeFileInfo(buf []byte) (*FileInfo, []byte, error) {
	name, buf, err := readUint32String(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("decode FileInfo name: %w", err)
	}
	if len(buf) < 8 {
		return nil, nil, fmt.Errorf("decode FileInfo size: truncated")
	}
	size := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("decode FileInfo is_directory: truncated")
	}
	isDir := buf[0] != 0
	buf = buf[1:]
	if len(buf) < 8 {
		return nil, nil, fmt.Errorf("decode FileInfo modified_time: truncated")
	}
	modTime := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("decode FileInfo permissions: truncated")
	}
	perms := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]

	return &FileInfo{
		Name:         name,
		Size:         size,
		IsDirectory:  isDir,
		ModifiedTime: modTime,
		Permissions:  perms,
	}, buf, nil
}

// Encode serializes a Response to its wire form.
func (r *Response) Encode() []byte {
	buf := make([]byte, 0, 64+len(r.ErrorMessage)+len(r.Data))
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(r.Type))
	buf = append(buf, tmp4[:]...)
	if r.Success {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = putUint32String(buf, r.ErrorMessage)
	buf = putUint32Bytes(buf, r.Data)

	switch {
	case r.Info != nil:
		buf = append(buf, byte(detailsFileInfo))
		buf = encodeFileInfo(buf, r.Info)
	case r.Listing != nil:
		buf = append(buf, byte(detailsDirectoryListing))
		binary.BigEndian.PutUint32(tmp4[:], uint32(len(r.Listing.Entries)))
		buf = append(buf, tmp4[:]...)
		for i := range r.Listing.Entries {
			buf = encodeFileInfo(buf, &r.Listing.Entries[i])
		}
	default:
		buf = append(buf, byte(detailsNone))
	}

	return buf
}

// DecodeResponse parses a Response from its wire form.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("wire: response too short")
	}
	respType := ResponseKind(int32(binary.BigEndian.Uint32(buf[:4])))
	buf = buf[4:]

	if len(buf) < 1 {
		return nil, fmt.Errorf("wire: response missing success flag")
	}
	success := buf[0] != 0
	buf = buf[1:]

	errMsg, buf, err := readUint32String(buf)
	if err != nil {
		return nil, fmt.Errorf("wire: decode response error_message: %w", err)
	}

	data, buf, err := readUint32Bytes(buf)
	if err != nil {
		return nil, fmt.Errorf("wire: decode response data: %w", err)
	}

	if len(buf) < 1 {
		return nil, fmt.Errorf("wire: response missing details tag")
	}
	tag := detailsTag(buf[0])
	buf = buf[1:]

	resp := &Response{
		Type:         respType,
		Success:      success,
		ErrorMessage: errMsg,
		Data:         data,
	}

	switch tag {
	case detailsNone:
		// nothing more to read
	case detailsFileInfo:
		fi, _, err := decodeFileInfo(buf)
		if err != nil {
			return nil, fmt.Errorf("wire: decode response FileInfo: %w", err)
		}
		resp.Info = fi
	case detailsDirectoryListing:
		if len(buf) < 4 {
			return nil, fmt.Errorf("wire: decode DirectoryListing: truncated count")
		}
		count := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		// minFileInfoSize bounds how many entries buf could possibly
		// hold, so a peer claiming a huge count can't force a
		// multi-gigabyte allocation before decoding ever fails on the
		// truncated buffer.
		const minFileInfoSize = 4 + 8 + 1 + 8 + 4
		if uint64(count) > uint64(len(buf))/minFileInfoSize {
			return nil, fmt.Errorf("wire: decode DirectoryListing: count %d exceeds remaining buffer", count)
		}
		entries := make([]FileInfo, 0, count)
		for i := uint32(0); i < count; i++ {
			fi, rest, err := decodeFileInfo(buf)
			if err != nil {
				return nil, fmt.Errorf("wire: decode DirectoryListing entry %d: %w", i, err)
			}
			entries = append(entries, *fi)
			buf = rest
		}
		resp.Listing = &DirectoryListing{Entries: entries}
	default:
		return nil, fmt.Errorf("wire: unknown response details tag %d", tag)
	}

	return resp, nil
}
