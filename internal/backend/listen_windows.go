//go:build windows

package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func socketPath() string {
	// Keep the path under the 108-byte sun_path limit; the default temp
	// directory is often too long on Windows.
	dir := filepath.Join(os.TempDir(), "vcan")
	os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, fmt.Sprintf("b-%d-%d.sock", os.Getpid(), socketCounter.Add(1)))
}

func removeSocketPlatform(path string) {
	// File locks can outlive the socket briefly.
	for i := 0; i < 5; i++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
