// Package transport wires the bridge's two transports — the serial link
// and the MQTT bus — to the external driver libraries the core dispatcher
// and liveness clock only see through narrow interfaces (§1 "out of
// scope" collaborators).
package transport

import (
	"bufio"
	"errors"
	"strings"
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
)

// ErrNotOpen is returned by Serial operations attempted before Open
// succeeds.
var ErrNotOpen = errors.New("serial: port not open")

// Serial wraps a goserial.Port with the line-oriented read/write the
// bridge's frame codec expects, and the bounded-timeout raw mode the
// original implementation configures on the tty (§4.7).
type Serial struct {
	portName string
	baudrate int
	timeout  time.Duration

	port   *goserial.Port
	reader *bufio.Reader
}

// NewSerial returns a Serial for portName/baudrate, polling with the given
// read timeout. portName == "" means no serial section was configured;
// Configured() reports false and Open is never called.
func NewSerial(portName string, baudrate int, timeout time.Duration) *Serial {
	return &Serial{portName: portName, baudrate: baudrate, timeout: timeout}
}

// Configured reports whether a serial port was named in the configuration.
func (s *Serial) Configured() bool {
	return s.portName != ""
}

// Open opens the port, puts it in raw mode at the configured baud rate,
// and arms the read timeout.
func (s *Serial) Open() error {
	opts := goserial.NewOptions().SetReadTimeout(s.timeout)
	port, err := goserial.Open(s.portName, opts)
	if err != nil {
		return err
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return err
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(uint32(s.baudrate))
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return err
	}

	s.port = port
	s.reader = bufio.NewReader(port)
	logger.LogInfo("serial: opened %s at %d baud", s.portName, s.baudrate)
	return nil
}

// Reinit closes and reopens the port, used by the liveness drain to
// recover from a detected hang (§4.5 step 5).
func (s *Serial) Reinit() error {
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
	return s.Open()
}

// ReadLine blocks up to the configured timeout for one newline-terminated
// line, with the trailing "\r\n"/"\n" stripped.
func (s *Serial) ReadLine() (string, error) {
	if s.port == nil {
		return "", ErrNotOpen
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine writes line followed by a newline.
func (s *Serial) WriteLine(line string) error {
	if s.port == nil {
		return ErrNotOpen
	}
	_, err := s.port.Write([]byte(line + "\n"))
	return err
}

// Close releases the underlying port, if open.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
