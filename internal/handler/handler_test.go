package handler

import (
	"strings"
	"testing"

	"github.com/fenrisnet/fenris/internal/fileops"
	"github.com/fenrisnet/fenris/internal/wire"
)

func newHandler(t *testing.T) (*RequestHandler, string) {
	t.Helper()
	dir := t.TempDir()
	ops, err := fileops.NewDefaultFileOperations(dir)
	if err != nil {
		t.Fatal(err)
	}
	return New(ops), "/"
}

func TestPingReturnsPong(t *testing.T) {
	h, cwd := newHandler(t)
	resp := h.ProcessRequest("c1", &wire.Request{Command: wire.Ping}, &cwd)
	if resp.Type != wire.Pong || !resp.Success {
		t.Fatalf("got %+v, want Pong/success", resp)
	}
}

func TestWriteThenReadFile(t *testing.T) {
	h, cwd := newHandler(t)

	writeResp := h.ProcessRequest("c1", &wire.Request{
		Command:  wire.WriteFile,
		Filename: "hello.txt",
		Data:     []byte("Hello, World!"),
	}, &cwd)
	if !writeResp.Success {
		t.Fatalf("write failed: %+v", writeResp)
	}

	readResp := h.ProcessRequest("c1", &wire.Request{
		Command:  wire.ReadFile,
		Filename: "hello.txt",
	}, &cwd)
	if readResp.Type != wire.FileContent || !readResp.Success {
		t.Fatalf("read failed: %+v", readResp)
	}
	if string(readResp.Data) != "Hello, World!" {
		t.Fatalf("Data = %q, want %q", readResp.Data, "Hello, World!")
	}
}

func TestChangeDirThenListDir(t *testing.T) {
	h, cwd := newHandler(t)

	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.CreateDir, Filename: "data"}, &cwd); !resp.Success {
		t.Fatalf("mkdir failed: %+v", resp)
	}
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.CreateDir, Filename: "data/sub"}, &cwd); !resp.Success {
		t.Fatalf("mkdir sub failed: %+v", resp)
	}
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.WriteFile, Filename: "data/f1.txt", Data: []byte("x")}, &cwd); !resp.Success {
		t.Fatalf("write f1 failed: %+v", resp)
	}

	cdResp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: "data"}, &cwd)
	if cdResp.Type != wire.ChangedDir || !cdResp.Success {
		t.Fatalf("cd failed: %+v", cdResp)
	}
	if cwd != "/data" {
		t.Fatalf("current_dir = %q, want /data", cwd)
	}

	listResp := h.ProcessRequest("c1", &wire.Request{Command: wire.ListDir, Filename: "."}, &cwd)
	if listResp.Type != wire.DirListing || !listResp.Success {
		t.Fatalf("list failed: %+v", listResp)
	}
	if listResp.Listing == nil || len(listResp.Listing.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", listResp.Listing)
	}
	names := map[string]bool{}
	for _, e := range listResp.Listing.Entries {
		names[e.Name] = true
	}
	if !names["f1.txt"] || !names["sub"] {
		t.Fatalf("unexpected entries: %+v", listResp.Listing.Entries)
	}
}

func TestAppendFileScenario(t *testing.T) {
	h, cwd := newHandler(t)

	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.WriteFile, Filename: "log.txt", Data: []byte("Init")}, &cwd); !resp.Success {
		t.Fatalf("initial write failed: %+v", resp)
	}
	appendResp := h.ProcessRequest("c1", &wire.Request{Command: wire.AppendFile, Filename: "log.txt", Data: []byte(" - More")}, &cwd)
	if !appendResp.Success {
		t.Fatalf("append failed: %+v", appendResp)
	}

	readResp := h.ProcessRequest("c1", &wire.Request{Command: wire.ReadFile, Filename: "log.txt"}, &cwd)
	if string(readResp.Data) != "Init - More" {
		t.Fatalf("Data = %q, want %q", readResp.Data, "Init - More")
	}
}

func TestSandboxEscapeKeepsSessionOpen(t *testing.T) {
	h, cwd := newHandler(t)

	resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ReadFile, Filename: "../../etc/passwd"}, &cwd)
	if resp.Success {
		t.Fatal("expected sandbox escape to fail")
	}
	if !strings.Contains(resp.ErrorMessage, "Path outside base directory") {
		t.Fatalf("ErrorMessage = %q, want it to mention the sandbox violation", resp.ErrorMessage)
	}

	// The session (current_dir) must remain usable after a handler-level error.
	pingResp := h.ProcessRequest("c1", &wire.Request{Command: wire.Ping}, &cwd)
	if !pingResp.Success {
		t.Fatal("expected the handler to remain usable after an error response")
	}
}

func TestUnknownCommandProducesInvalidRequestType(t *testing.T) {
	h, cwd := newHandler(t)
	resp := h.ProcessRequest("c1", &wire.Request{Command: wire.RequestKind(99)}, &cwd)
	if resp.Success {
		t.Fatal("expected failure for unknown command")
	}
	if resp.ErrorMessage != "Invalid request type" {
		t.Fatalf("ErrorMessage = %q, want %q", resp.ErrorMessage, "Invalid request type")
	}
}

func TestCurrentDirStateMachine(t *testing.T) {
	h, cwd := newHandler(t)
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.CreateDir, Filename: "data"}, &cwd); !resp.Success {
		t.Fatalf("mkdir failed: %+v", resp)
	}

	// cd data
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: "data"}, &cwd); !resp.Success {
		t.Fatalf("cd data failed: %+v", resp)
	}
	if cwd != "/data" {
		t.Fatalf("current_dir = %q, want /data", cwd)
	}

	// cd .. returns to /
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: ".."}, &cwd); !resp.Success {
		t.Fatalf("cd .. failed: %+v", resp)
	}
	if cwd != "/" {
		t.Fatalf("current_dir = %q, want /", cwd)
	}

	// cd missing leaves current_dir unchanged and returns success=false
	resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: "missing"}, &cwd)
	if resp.Success {
		t.Fatal("expected cd into a missing directory to fail")
	}
	if cwd != "/" {
		t.Fatalf("current_dir = %q, want unchanged /", cwd)
	}

	// cd /data absolute
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: "/data"}, &cwd); !resp.Success {
		t.Fatalf("cd /data failed: %+v", resp)
	}
	if cwd != "/data" {
		t.Fatalf("current_dir = %q, want /data", cwd)
	}

	// cd ~ resets to /
	if resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: "~"}, &cwd); !resp.Success {
		t.Fatalf("cd ~ failed: %+v", resp)
	}
	if cwd != "/" {
		t.Fatalf("current_dir = %q, want /", cwd)
	}
}

func TestChangeDirAtRootParentStaysAtRoot(t *testing.T) {
	h, cwd := newHandler(t)
	resp := h.ProcessRequest("c1", &wire.Request{Command: wire.ChangeDir, Filename: ".."}, &cwd)
	if !resp.Success || cwd != "/" {
		t.Fatalf("cd .. at root: success=%v current_dir=%q, want success=true current_dir=/", resp.Success, cwd)
	}
}

func TestRequestKindCoverageProducesResponseWithoutPanicking(t *testing.T) {
	h, cwd := newHandler(t)
	for kind := wire.Ping; kind <= wire.UploadFile; kind++ {
		req := &wire.Request{Command: kind, Filename: "coverage.txt", Data: []byte("x")}
		resp := h.ProcessRequest("c1", req, &cwd)
		if resp == nil {
			t.Fatalf("kind %v produced a nil response", kind)
		}
	}
}
