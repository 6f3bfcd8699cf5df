// Package compression implements pluggable payload compression codecs: a
// required no-op codec and an optional zstd codec, applied to plaintext
// before encryption on the write path and after decryption on the read
// path.
package compression

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/fenrisnet/fenris/internal/ferr"
)

// Compressor compresses and decompresses message payloads. Implementations
// must be safe for concurrent use by multiple goroutines.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// NullCompressor passes data through unchanged. It is the default codec
// and the one every Fenris build must support regardless of which
// optional codec is configured.
type NullCompressor struct{}

func (NullCompressor) Name() string { return "none" }

func (NullCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (NullCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// ZstdCompressor compresses with zstd at the configured level.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor builds a reusable encoder/decoder pair at the given
// compression level. level <= 0 selects the library default.
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	var opts []zstd.EOption
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}

	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindCompression, "construct zstd encoder", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, ferr.Wrap(ferr.KindDecompression, "construct zstd decoder", err)
	}

	return &ZstdCompressor{encoder: enc, decoder: dec}, nil
}

func (ZstdCompressor) Name() string { return "zstd" }

func (z *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (z *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindDecompression, "zstd decode", err)
	}
	return out, nil
}

// Close releases the encoder/decoder's background resources.
func (z *ZstdCompressor) Close() {
	z.encoder.Close()
	z.decoder.Close()
}

// ReadAll drains r fully and decompresses it in one shot, for callers that
// already hold a complete compressed buffer rather than a stream.
func ReadAll(c Compressor, r io.Reader) ([]byte, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindDecompression, "read compressed payload", err)
	}
	return c.Decompress(buf)
}

// ByName resolves a codec name from configuration to a Compressor
// instance.
func ByName(name string, level int) (Compressor, error) {
	switch name {
	case "", "none":
		return NullCompressor{}, nil
	case "zstd":
		return NewZstdCompressor(level)
	default:
		return nil, ferr.New(ferr.KindCompression, "unknown compression codec: "+name)
	}
}
