// Package ratelimit throttles file-transfer data with a token-bucket
// limiter, applied to WriteFile/AppendFile/UploadFile payloads when a
// server is configured with a transfer rate cap.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// burstSize caps how many bytes can be written in one chunk between
// limiter waits (16 KiB); writes up to this size go through as a single
// chunk, larger ones are split into chunks of this size.
const burstSize = 16 * 1024

// Writer wraps an io.Writer, limiting throughput to bytesPerSecond.
type Writer struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewWriter returns a rate-limited writer. bytesPerSecond <= 0 disables
// limiting and returns w unchanged.
func NewWriter(ctx context.Context, w io.Writer, bytesPerSecond int64) io.Writer {
	if bytesPerSecond <= 0 {
		return w
	}
	return &Writer{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstSize),
		ctx:     ctx,
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	select {
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	default:
	}

	written := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > burstSize {
			chunk = burstSize
		}

		if err := w.limiter.WaitN(w.ctx, chunk); err != nil {
			return written, err
		}

		n, err := w.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		if n < chunk {
			return written, io.ErrShortWrite
		}
		p = p[chunk:]
	}
	return written, nil
}

// Reader wraps an io.Reader, limiting throughput to bytesPerSecond.
type Reader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewReader returns a rate-limited reader. bytesPerSecond <= 0 disables
// limiting and returns r unchanged.
func NewReader(ctx context.Context, r io.Reader, bytesPerSecond int64) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}
	return &Reader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstSize),
		ctx:     ctx,
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
	}

	n, err := r.r.Read(p)
	if n <= 0 {
		return n, err
	}
	if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
		return n, waitErr
	}
	return n, err
}
