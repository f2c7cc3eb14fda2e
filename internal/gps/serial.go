package gps

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/jacobsa/go-serial/serial"
)

var errTermios = errors.New("termios setup failed")

// OpenSerial opens the receiver port with a bounded read timeout. On Linux
// it configures termios directly and falls back to go-serial when the
// device rejects the termios calls (some USB CDC bridges do).
func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	rwc, err := openPlatformSerial(path, baud)
	if err == nil {
		return rwc, nil
	}
	if !errors.Is(err, errTermios) {
		return nil, err
	}
	log.Printf("gps: %v on %s, retrying with go-serial", err, path)
	return openPortableSerial(path, baud)
}

func openPortableSerial(path string, baud int) (io.ReadWriteCloser, error) {
	rwc, err := serial.Open(serial.OpenOptions{
		PortName:              path,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return rwc, nil
}
