package xymodem

import (
	"errors"
	"io"
)

// Channel is the octet-oriented duplex transport an engine is driven
// against. A serial port, a net.Conn, or an io.Pipe all qualify. The
// caller is responsible for configuring any read timeout before the
// transfer begins; engines never set one.
type Channel interface {
	io.Reader
	io.Writer
}

// TimeoutError is satisfied by errors that represent a read timing out
// rather than failing. go.bug.st/serial.PortError and net.Error both
// implement it already.
type TimeoutError interface {
	error
	Timeout() bool
}

// readByte reads exactly one octet from ch, failing with a KindIoFailure
// Error on any read error, a timeout included (callers that want timeouts
// swallowed use readByteTimeout instead).
func readByte(ch Channel) (byte, error) {
	var buf [1]byte
	n, err := ch.Read(buf[:])
	if err != nil {
		return 0, ioFailure(err)
	}
	if n == 0 {
		return 0, ioFailure(errors.New("channel: read returned no bytes and no error"))
	}
	return buf[0], nil
}

// readByteTimeout reads one octet from ch. ok is false, err is nil when
// the channel reports a timeout (a genuine "no byte arrived" condition,
// not an I/O failure) or when it returns a clean zero-byte read, which
// serial.Port treats identically to a timeout. Any other error is
// surfaced as a KindIoFailure Error.
func readByteTimeout(ch Channel) (b byte, ok bool, err error) {
	var buf [1]byte
	n, rerr := ch.Read(buf[:])
	if rerr != nil {
		var te TimeoutError
		if errors.As(rerr, &te) && te.Timeout() {
			return 0, false, nil
		}
		return 0, false, ioFailure(rerr)
	}
	if n == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

// writeAll writes data to ch in full, surfacing any failure as a
// KindIoFailure Error. Channel write atomicity per call is not required,
// so writeAll loops until every byte is written or an error occurs.
func writeAll(ch Channel, data []byte) error {
	for len(data) > 0 {
		n, err := ch.Write(data)
		if err != nil {
			return ioFailure(err)
		}
		if n == 0 {
			return ioFailure(errors.New("channel: write made no progress"))
		}
		data = data[n:]
	}
	return nil
}

// writeByte writes a single control octet.
func writeByte(ch Channel, b byte) error {
	return writeAll(ch, []byte{b})
}

// bestEffortCancel emits a single CAN byte, ignoring any write failure —
// it is sent after the retry budget is already exhausted, so there is
// nothing useful left to do with an error here.
func bestEffortCancel(ch Channel) {
	_, _ = ch.Write([]byte{ctrlCAN})
}
