//go:build !linux

package gps

import "io"

func openPlatformSerial(path string, baud int) (io.ReadWriteCloser, error) {
	return openPortableSerial(path, baud)
}
