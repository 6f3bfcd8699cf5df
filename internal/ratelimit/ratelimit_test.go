package ratelimit

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestWriterPassthroughWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(context.Background(), &buf, 0)
	if _, ok := w.(*Writer); ok {
		t.Fatal("expected passthrough writer when bytesPerSecond <= 0")
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello" {
		t.Fatalf("buf = %q, want %q", buf.String(), "hello")
	}
}

func TestReaderPassthroughWhenDisabled(t *testing.T) {
	src := bytes.NewReader([]byte("hello"))
	r := NewReader(context.Background(), src, 0)
	if _, ok := r.(*Reader); ok {
		t.Fatal("expected passthrough reader when bytesPerSecond <= 0")
	}
}

func TestWriterThrottlesLargeWrites(t *testing.T) {
	var buf bytes.Buffer
	// A payload of two bursts: the first chunk drains the limiter's
	// initial burst, so the second WaitN must block for burstSize bytes at
	// 4*burstSize bytes/sec (250ms), proving the limiter is engaged.
	w := NewWriter(context.Background(), &buf, 4*burstSize)
	payload := bytes.Repeat([]byte{0xAB}, 2*burstSize)

	start := time.Now()
	n, err := w.Write(payload)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write() wrote %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatal("written bytes do not match payload")
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("Write() took %v, expected throttling to take about 250ms", elapsed)
	}
}

func TestWriterRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	w := NewWriter(ctx, &buf, 1024)
	if _, err := w.Write([]byte("data")); err == nil {
		t.Fatal("expected write to fail on a cancelled context")
	}
}

func TestReaderRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(ctx, bytes.NewReader([]byte("data")), 1024)
	buf := make([]byte, 4)
	if _, err := r.Read(buf); err == nil {
		t.Fatal("expected read to fail on a cancelled context")
	}
}
