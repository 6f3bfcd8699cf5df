package fserver

import (
	"net"
	"testing"
	"time"

	"github.com/fenrisnet/fenris/internal/channel"
	"github.com/fenrisnet/fenris/internal/compression"
	fcrypto "github.com/fenrisnet/fenris/internal/crypto"
	"github.com/fenrisnet/fenris/internal/metrics"
	"github.com/fenrisnet/fenris/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

func startServer(t *testing.T, mutate func(*ServerConfig)) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.BaseDir = dir
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.IdleTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	s := NewServer(cfg, nil, m)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, s.Address().String()
}

// dialClient opens a TCP connection and performs the client side of the
// secure channel handshake, returning a ready-to-use SecureChannel.
func dialClient(t *testing.T, addr string) (*channel.SecureChannel, net.Conn) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sc, err := channel.ClientHandshake(conn, fcrypto.Default(), compression.NullCompressor{}, channel.DefaultKeyContext)
	if err != nil {
		conn.Close()
		t.Fatalf("client handshake: %v", err)
	}
	return sc, conn
}

func TestEndToEndPingPong(t *testing.T) {
	_, addr := startServer(t, nil)
	sc, conn := dialClient(t, addr)
	defer conn.Close()

	if err := sc.SendRequest(&wire.Request{Command: wire.Ping}); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := sc.RecvResponse()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if resp.Type != wire.Pong || !resp.Success {
		t.Fatalf("got %+v, want Pong/success", resp)
	}
}

func TestEndToEndWriteReadFile(t *testing.T) {
	_, addr := startServer(t, nil)
	sc, conn := dialClient(t, addr)
	defer conn.Close()

	if err := sc.SendRequest(&wire.Request{Command: wire.WriteFile, Filename: "hello.txt", Data: []byte("hi there")}); err != nil {
		t.Fatalf("send write: %v", err)
	}
	writeResp, err := sc.RecvResponse()
	if err != nil || !writeResp.Success {
		t.Fatalf("write resp = %+v, err = %v", writeResp, err)
	}

	if err := sc.SendRequest(&wire.Request{Command: wire.ReadFile, Filename: "hello.txt"}); err != nil {
		t.Fatalf("send read: %v", err)
	}
	readResp, err := sc.RecvResponse()
	if err != nil || !readResp.Success {
		t.Fatalf("read resp = %+v, err = %v", readResp, err)
	}
	if string(readResp.Data) != "hi there" {
		t.Fatalf("Data = %q, want %q", readResp.Data, "hi there")
	}
}

func TestEndToEndTerminateClosesSessionCleanly(t *testing.T) {
	_, addr := startServer(t, nil)
	sc, conn := dialClient(t, addr)
	defer conn.Close()

	if err := sc.SendRequest(&wire.Request{Command: wire.Terminate}); err != nil {
		t.Fatalf("send terminate: %v", err)
	}
	resp, err := sc.RecvResponse()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if resp.Type != wire.Terminated || !resp.Success {
		t.Fatalf("got %+v, want Terminated/success", resp)
	}
}

func TestEndToEndSandboxEscapeThenSubsequentRequestSucceeds(t *testing.T) {
	_, addr := startServer(t, nil)
	sc, conn := dialClient(t, addr)
	defer conn.Close()

	if err := sc.SendRequest(&wire.Request{Command: wire.ReadFile, Filename: "../../etc/passwd"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := sc.RecvResponse()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if resp.Success {
		t.Fatal("expected sandbox escape to fail")
	}

	if err := sc.SendRequest(&wire.Request{Command: wire.Ping}); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	pingResp, err := sc.RecvResponse()
	if err != nil || !pingResp.Success {
		t.Fatalf("ping after error: resp=%+v err=%v", pingResp, err)
	}
}

func TestCapacityRejectsWhenFull(t *testing.T) {
	_, addr := startServer(t, func(c *ServerConfig) {
		c.MaxConnections = 1
		c.RejectWhenFull = true
	})

	sc1, conn1 := dialClient(t, addr)
	defer conn1.Close()

	conn2, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer conn2.Close()

	// The server should have closed conn2 without completing a handshake
	// since the single capacity slot is held by conn1.
	conn2.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 1)
	_, err = conn2.Read(buf)
	if err == nil {
		t.Fatal("expected the rejected connection to be closed by the server")
	}

	if err := sc1.SendRequest(&wire.Request{Command: wire.Ping}); err != nil {
		t.Fatalf("send on admitted connection: %v", err)
	}
	if resp, err := sc1.RecvResponse(); err != nil || !resp.Success {
		t.Fatalf("admitted connection should still work: resp=%+v err=%v", resp, err)
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	s, addr := startServer(t, func(c *ServerConfig) {
		c.IdleTimeout = 200 * time.Millisecond
	})

	_, conn := dialClient(t, addr)
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.ConnectionCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected idle connection to be cleaned up")
}

func TestGracefulShutdownClosesListener(t *testing.T) {
	s, addr := startServer(t, nil)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Fatal("expected IsRunning() false after Stop()")
	}
	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Fatal("expected dial to fail after shutdown")
	}
}

// TestGracefulShutdownWithActiveConnectionAndNoIdleTimeout guards against a
// Stop() that only closes the listener: with idle timeouts disabled, a live
// but otherwise-quiet client must not be able to block shutdown forever.
func TestGracefulShutdownWithActiveConnectionAndNoIdleTimeout(t *testing.T) {
	s, addr := startServer(t, func(c *ServerConfig) {
		c.IdleTimeout = 0
	})

	_, conn := dialClient(t, addr)
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() did not return with a live, idle-timeout-disabled connection open")
	}

	if s.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0 after Stop()", s.ConnectionCount())
	}
}
