// Package serialchannel adapts a real serial port to the xymodem.Channel
// interface, for driving a transfer against hardware (a bootloader, a
// modem, an embedded device) rather than an in-process pipe.
package serialchannel

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Config describes the serial port to open.
type Config struct {
	// Port is the OS device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string
	// BaudRate in bits per second. Typical XMODEM/YMODEM bootloader
	// links run at 9600 or 115200.
	BaudRate int
	// ReadTimeout bounds every Read call. The engine relies on this to
	// distinguish "no byte yet" from a hung peer; it never sets its own
	// deadline.
	ReadTimeout time.Duration
}

// Port wraps a go.bug.st/serial.Port as an xymodem.Channel. A timed-out
// Read returns (0, nil) rather than an error, which xymodem's
// readByteTimeout already treats as "no byte" — Port does not need to
// additionally implement xymodem.TimeoutError.
type Port struct {
	p serial.Port
}

// Open configures and opens the serial port described by cfg.
func Open(cfg Config) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serialchannel: open %s: %w", cfg.Port, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialchannel: set read timeout: %w", err)
	}
	return &Port{p: p}, nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.p.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.p.Write(b) }
func (p *Port) Close() error                { return p.p.Close() }
