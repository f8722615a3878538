//go:build !windows

package backend

import "os"

func socketPath() string {
	return defaultSocketPath()
}

func removeSocketPlatform(path string) {
	os.Remove(path)
}
