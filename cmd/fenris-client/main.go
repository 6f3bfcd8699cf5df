// Package main provides the non-interactive Fenris client CLI used for
// manual protocol testing; it is not a replacement for an interactive
// terminal UI, which remains out of scope.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fenrisnet/fenris/internal/channel"
	"github.com/fenrisnet/fenris/internal/compression"
	fcrypto "github.com/fenrisnet/fenris/internal/crypto"
	"github.com/fenrisnet/fenris/internal/sysinfo"
	"github.com/fenrisnet/fenris/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var host string
	var port int
	var compressionAlgo string

	cmd := &cobra.Command{
		Use:     "fenris-client",
		Short:   "A non-interactive client for the Fenris file-operations protocol",
		Version: sysinfo.Version,
	}
	cmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.PersistentFlags().IntVar(&port, "port", 5555, "server port")
	cmd.PersistentFlags().StringVar(&compressionAlgo, "compression", "none", "must match the server: none or zstd")

	dial := func() (*session, error) { return connect(host, port, compressionAlgo) }

	cmd.AddCommand(
		pingCmd(dial),
		lsCmd(dial),
		cdCmd(dial),
		getCmd(dial),
		putCmd(dial),
		appendCmd(dial),
		rmCmd(dial),
		mkdirCmd(dial),
		rmdirCmd(dial),
		infoCmd(dial),
	)
	return cmd
}

// session is one dial → handshake → request(s) → Terminate → disconnect
// round trip. No state is kept between CLI invocations.
type session struct {
	conn net.Conn
	sc   *channel.SecureChannel
}

func connect(host string, port int, compressionAlgo string) (*session, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	compressor, err := compression.ByName(compressionAlgo, 0)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sc, err := channel.ClientHandshake(conn, fcrypto.Default(), compressor, channel.DefaultKeyContext)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return &session{conn: conn, sc: sc}, nil
}

// do sends one request and returns its response, leaving the connection
// open for further requests in the same CLI invocation.
func (s *session) do(req *wire.Request) (*wire.Response, error) {
	if err := s.sc.SendRequest(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	resp, err := s.sc.RecvResponse()
	if err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	return resp, nil
}

// close sends Terminate and disconnects.
func (s *session) close() {
	s.sc.SendRequest(&wire.Request{Command: wire.Terminate})
	s.sc.RecvResponse()
	s.conn.Close()
}

func requireSuccess(resp *wire.Response) error {
	if !resp.Success {
		return fmt.Errorf("%s", resp.ErrorMessage)
	}
	return nil
}

type dialFunc func() (*session, error)

func pingCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.Ping})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func lsCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.ListDir, Filename: path})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			printListing(resp.Listing)
			return nil
		},
	}
}

func cdCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cd <path>",
		Short: "Change directory and list it (informational; no session persists between invocations)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			cdResp, err := s.do(&wire.Request{Command: wire.ChangeDir, Filename: args[0]})
			if err != nil {
				return err
			}
			if err := requireSuccess(cdResp); err != nil {
				return err
			}
			fmt.Printf("now in %s\n", string(cdResp.Data))

			lsResp, err := s.do(&wire.Request{Command: wire.ListDir, Filename: "."})
			if err != nil {
				return err
			}
			if err := requireSuccess(lsResp); err != nil {
				return err
			}
			printListing(lsResp.Listing)
			return nil
		},
	}
}

func getCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Read a remote file and print it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.ReadFile, Filename: args[0]})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			os.Stdout.Write(resp.Data)
			return nil
		},
	}
}

func putCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> <local-file>",
		Short: "Write a local file to a remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read local file: %w", err)
			}
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.WriteFile, Filename: args[0], Data: data})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			fmt.Println(string(resp.Data))
			return nil
		},
	}
}

func appendCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "append <path> <local-file>",
		Short: "Append a local file's contents to a remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read local file: %w", err)
			}
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.AppendFile, Filename: args[0], Data: data})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			fmt.Println(string(resp.Data))
			return nil
		},
	}
}

func rmCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.DeleteFile, Filename: args[0]})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			fmt.Println(string(resp.Data))
			return nil
		},
	}
}

func mkdirCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.CreateDir, Filename: args[0]})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			fmt.Println(string(resp.Data))
			return nil
		},
	}
}

func rmdirCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <path>",
		Short: "Delete a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.DeleteDir, Filename: args[0]})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			fmt.Println(string(resp.Data))
			return nil
		},
	}
}

func infoCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show metadata for a remote file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial()
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.do(&wire.Request{Command: wire.InfoFile, Filename: args[0]})
			if err != nil {
				return err
			}
			if err := requireSuccess(resp); err != nil {
				return err
			}
			printInfo(resp.Info)
			return nil
		},
	}
}

func printListing(listing *wire.DirectoryListing) {
	if listing == nil {
		return
	}
	for _, e := range listing.Entries {
		kind := "file"
		if e.IsDirectory {
			kind = "dir "
		}
		fmt.Printf("%s  %10s  %s\n", kind, humanize.Bytes(e.Size), e.Name)
	}
}

func printInfo(info *wire.FileInfo) {
	if info == nil {
		return
	}
	kind := "file"
	if info.IsDirectory {
		kind = "directory"
	}
	fmt.Printf("name:        %s\n", info.Name)
	fmt.Printf("type:        %s\n", kind)
	fmt.Printf("size:        %s\n", humanize.Bytes(info.Size))
	fmt.Printf("modified:    %s\n", time.Unix(int64(info.ModifiedTime), 0).UTC().Format(time.RFC3339))
	fmt.Printf("permissions: %o\n", info.Permissions)
}
