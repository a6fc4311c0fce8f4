package xymodem

import (
	"context"
	"io"
	"log/slog"
)

// Config holds the tunables and running state for one XMODEM transfer.
// Send and Receive reset the unexported error counter to zero at the
// start of each call, so a Config can be reused for successive transfers
// (Lifecycle, spec §3); NewConfig returns a fresh Config with the
// documented defaults.
type Config struct {
	// MaxErrors is the per-transfer protocol-error budget. Default 16.
	MaxErrors uint32
	// PadByte fills unused payload bytes in the final short block. Default 0x1A.
	PadByte byte
	// BlockLength selects the sender's data block size. Ignored by Receive,
	// which accepts whatever size the peer sends.
	BlockLength BlockLength
	// Logger receives Debug-level frame trace and Warn-level protocol
	// errors. Defaults to slog.Default() if nil.
	Logger *slog.Logger
	// Progress, if set, is notified when Send completes negotiation, after
	// each acknowledged block, and when a transfer completes successfully.
	// No event is reported when a transfer fails.
	Progress Reporter

	errors uint32
}

// NewConfig returns an XMODEM Config with the documented defaults.
func NewConfig() *Config {
	return &Config{
		MaxErrors:   defaultMaxErrors,
		PadByte:     defaultPadByte,
		BlockLength: Standard128,
	}
}

type xmodemSendState int

const (
	xsNegotiate xmodemSendState = iota
	xsData
	xsEOT
	xsDone
)

// Send drives an XMODEM sender state machine to completion: negotiates
// checksum mode, streams blocks read from r, and performs the EOT
// handshake. r is read strictly forward; every read that returns data,
// short or not, is padded to a whole block and sent, and streaming ends
// at the first read that returns no bytes.
func (c *Config) Send(ctx context.Context, ch Channel, r io.Reader) error {
	c.errors = 0
	log := loggerOrDefault(c.Logger)
	rep := reporterOrNop(c.Progress)

	var (
		mode     ChecksumMode
		canCount int
		seq      uint8 = 1
		state          = xsNegotiate
		sent     uint64
	)

	for state != xsDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case xsNegotiate:
			b, ok, err := readByteTimeout(ch)
			if err != nil {
				return err
			}
			switch {
			case !ok:
				c.errors++
			case b == ctrlNAK:
				mode = Standard
				state = xsData
			case b == ctrlC:
				mode = Crc16
				state = xsData
			case b == ctrlCAN:
				canCount++
				if canCount >= 2 {
					return canceled()
				}
			default:
				c.errors++
			}
			if c.errors >= c.MaxErrors {
				bestEffortCancel(ch)
				return exhaustedRetries(c.errors)
			}
			if state == xsData {
				log.Debug("xmodem send negotiated", "mode", mode)
				rep.Report(Event{Phase: "negotiating"})
			}

		case xsData:
			buf := make([]byte, c.BlockLength.size())
			n, rerr := r.Read(buf)
			if rerr != nil && rerr != io.EOF {
				return ioFailure(rerr)
			}
			if n == 0 {
				state = xsEOT
				continue
			}
			fillBlock(buf, n, c.PadByte)

			if err := c.sendBlockRetrying(ch, seq, buf, mode, &canCount, log); err != nil {
				return err
			}
			sent += uint64(n)
			rep.Report(Event{Phase: "sending", Bytes: sent})
			seq = nextSeq(seq)

		case xsEOT:
			for {
				if err := writeByte(ch, ctrlEOT); err != nil {
					return err
				}
				b, ok, err := readByteTimeout(ch)
				if err != nil {
					return err
				}
				if ok && b == ctrlACK {
					state = xsDone
					break
				}
				if ok && b == ctrlCAN {
					canCount++
					if canCount >= 2 {
						return canceled()
					}
				} else {
					canCount = 0
				}
				c.errors++
				if c.errors >= c.MaxErrors {
					bestEffortCancel(ch)
					return exhaustedRetries(c.errors)
				}
			}
		}
	}

	rep.Report(Event{Phase: "done"})
	return nil
}

// sendBlockRetrying writes one encoded data packet and resends it until
// the peer ACKs it, a CAN-CAN cancel is seen, or the shared error budget
// is exhausted.
func (c *Config) sendBlockRetrying(ch Channel, seq uint8, payload []byte, mode ChecksumMode, canCount *int, log *slog.Logger) error {
	packet := encodeDataPacket(seq, payload, mode)
	for {
		if err := writeAll(ch, packet); err != nil {
			return err
		}
		b, ok, err := readByteTimeout(ch)
		if err != nil {
			return err
		}
		if ok && b == ctrlACK {
			return nil
		}
		if ok && b == ctrlCAN {
			*canCount++
			if *canCount >= 2 {
				return canceled()
			}
		} else {
			*canCount = 0
		}
		c.errors++
		if c.errors >= c.MaxErrors {
			bestEffortCancel(ch)
			return exhaustedRetries(c.errors)
		}
		log.Warn("xmodem send block retry", "seq", seq)
	}
}

// Receive drives an XMODEM receiver state machine to completion,
// appending every delivered block (padding included — the protocol
// carries no length field) to w. mode selects whether NAK (Standard) or
// C (Crc16) is emitted to request the sender's checksum variant.
func (c *Config) Receive(ctx context.Context, ch Channel, w io.Writer, mode ChecksumMode) error {
	c.errors = 0
	log := loggerOrDefault(c.Logger)
	rep := reporterOrNop(c.Progress)

	startByte := ctrlNAK
	if mode == Crc16 {
		startByte = ctrlC
	}
	if err := writeByte(ch, startByte); err != nil {
		return err
	}

	var (
		expected  uint8 = 1
		canCount  int
		delivered uint64
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, ok, err := readByteTimeout(ch)
		if err != nil {
			return err
		}

		switch {
		case !ok:
			canCount = 0
			c.errors++

		case b == ctrlSOH || b == ctrlSTX:
			canCount = 0
			size, _ := payloadSizeForHeader(b)
			seq, seqOK, payload, sumOK, err := readDataPacketBody(ch, size, mode)
			if err != nil {
				return err
			}
			if seq != expected || !seqOK {
				bestEffortCancel(ch)
				bestEffortCancel(ch)
				return canceled()
			}
			if sumOK {
				if err := writeByte(ch, ctrlACK); err != nil {
					return err
				}
				if _, err := w.Write(payload); err != nil {
					return ioFailure(err)
				}
				delivered += uint64(len(payload))
				rep.Report(Event{Phase: "receiving", Bytes: delivered})
				expected = nextSeq(expected)
				continue
			}
			if err := writeByte(ch, ctrlNAK); err != nil {
				return err
			}
			c.errors++

		case b == ctrlEOT:
			if err := writeByte(ch, ctrlACK); err != nil {
				return err
			}
			rep.Report(Event{Phase: "done", Bytes: delivered})
			return nil

		case b == ctrlCAN:
			canCount++
			if canCount >= 2 {
				return canceled()
			}

		default:
			canCount = 0
			log.Debug("xmodem receive: ignoring unrecognized byte", "byte", b)
		}

		if c.errors >= c.MaxErrors {
			bestEffortCancel(ch)
			return exhaustedRetries(c.errors)
		}
	}
}
