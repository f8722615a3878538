//go:build unix

package channel

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SocketPair returns a channel connected to an in-process peer. The peer
// end is handed to a backend implementation, typically in another
// goroutine.
func SocketPair(opts Options) (Channel, net.Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("channel: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	local, err := fileConn(fds[0], "vcan-device")
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	peer, err := fileConn(fds[1], "vcan-backend")
	if err != nil {
		local.Close()
		return nil, nil, err
	}
	return New(local, opts), peer, nil
}

// fileConn turns a socket descriptor into a net.Conn. net.FileConn
// duplicates the descriptor, so the original is closed here.
func fileConn(fd int, name string) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("channel: socketpair %s: %w", name, err)
	}
	return conn, nil
}
