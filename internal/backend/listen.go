package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// socketCounter keeps paths unique when several backends start at once.
var socketCounter atomic.Uint64

// SocketPath returns a fresh unix socket path in the temp directory.
func SocketPath() string {
	return socketPath()
}

func defaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("vcan-%d-%d-%d.sock",
		os.Getpid(), time.Now().UnixNano(), socketCounter.Add(1)))
}

// Listen opens a backend listener. A stale unix socket left behind by an
// earlier run is removed first; a regular file at the path is an error.
func Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		fi, err := os.Lstat(address)
		switch {
		case err == nil && fi.Mode()&fs.ModeSocket != 0:
			removeSocket(address)
		case err == nil:
			return nil, fmt.Errorf("listen %s: path exists and is not a socket", address)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("listen %s: %w", address, err)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
	}
	return ln, nil
}

// removeSocket removes a unix socket file.
func removeSocket(path string) {
	removeSocketPlatform(path)
}
