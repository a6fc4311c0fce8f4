package xymodem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

// YConfig holds the tunables and running state for one YMODEM transfer.
// Like Config, Send and Receive reset both of its error counters at the
// start of each call.
type YConfig struct {
	// MaxErrors is the per-transfer protocol-error budget (after the
	// initial handshake). Default 16.
	MaxErrors uint32
	// MaxInitialErrors bounds the initial "wait for receiver's C"
	// handshake, counted separately from MaxErrors. Default 16.
	MaxInitialErrors uint32
	// PadByte fills unused payload bytes in the final short data block.
	// Default 0x1A. Not used for the header/end-of-batch blocks, which
	// are always padded with 0x00 (spec §9).
	PadByte byte
	// IgnoreNonDigitsOnFileSize strips non-digit characters from the
	// received ASCII file-size field before parsing it as a receiver.
	IgnoreNonDigitsOnFileSize bool
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
	// Progress, if set, is notified once the header block has been
	// exchanged, after each acknowledged block, and when a transfer
	// completes successfully. No event is reported when a transfer fails.
	Progress Reporter

	errors        uint32
	initialErrors uint32
}

// NewYConfig returns a YMODEM Config with the documented defaults.
func NewYConfig() *YConfig {
	return &YConfig{
		MaxErrors:        defaultMaxErrors,
		MaxInitialErrors: defaultMaxInitialErrors,
		PadByte:          defaultPadByte,
	}
}

// ceilDiv computes ceiling division. The original implementation this
// protocol is reimplemented from computed "size + 1023 / 1024", an
// operator-precedence bug; this reimplementation always uses true
// ceiling division.
func ceilDiv(size uint64, block uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + block - 1) / block
}

type ysendState int

const (
	ysWaitStart ysendState = iota
	ysHeader
	ysData
	ysEOT
	ysBatchEnd
	ysDone
)

// Send drives a YMODEM sender state machine: waits for the receiver's
// initial 'C', sends the header block (filename + size), streams data
// blocks read from r, performs the EOT handshake, then sends the
// batch-terminating empty header.
func (c *YConfig) Send(ctx context.Context, ch Channel, r io.Reader, filename string, size uint64) error {
	c.errors = 0
	c.initialErrors = 0
	log := loggerOrDefault(c.Logger)
	rep := reporterOrNop(c.Progress)

	var canCount int
	state := ysWaitStart

	for state != ysDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case ysWaitStart:
			b, ok, err := readByteTimeout(ch)
			if err != nil {
				return err
			}
			switch {
			case ok && b == ctrlC:
				state = ysHeader
			case ok && b == ctrlCAN:
				canCount++
				if canCount >= 2 {
					return canceled()
				}
			default:
				canCount = 0
				c.initialErrors++
			}
			if c.initialErrors >= c.MaxInitialErrors {
				bestEffortCancel(ch)
				return exhaustedRetries(c.initialErrors)
			}

		case ysHeader:
			payload := marshalHeaderBlock(filename, size)
			if err := c.sendYBlockExpecting(ch, 0, payload, ctrlACK, &canCount, log); err != nil {
				return err
			}
			if err := c.expectByte(ch, ctrlC, &canCount, log); err != nil {
				return err
			}
			rep.Report(Event{Phase: "negotiating", Filename: filename, TotalBytes: size})
			state = ysData

		case ysData:
			total := ceilDiv(size, longBlockSize)
			var seq uint8 = 1
			var sent uint64
			for i := uint64(0); i < total; i++ {
				remaining := size - sent
				blockLen := longBlockSize
				if i == total-1 && remaining <= shortBlockSize {
					blockLen = shortBlockSize
				}
				buf := make([]byte, blockLen)
				n, rerr := io.ReadFull(r, buf)
				if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
					return ioFailure(rerr)
				}
				if n == 0 {
					break
				}
				fillBlock(buf, n, c.PadByte)
				if err := c.sendYBlockExpecting(ch, seq, buf, ctrlACK, &canCount, log); err != nil {
					return err
				}
				sent += uint64(n)
				seq = nextSeq(seq)
				rep.Report(Event{Phase: "sending", Filename: filename, Bytes: sent, TotalBytes: size})
			}
			state = ysEOT

		case ysEOT:
			if err := writeByte(ch, ctrlEOT); err != nil {
				return err
			}
			if err := c.expectByte(ch, ctrlNAK, &canCount, log); err != nil {
				return err
			}
			if err := writeByte(ch, ctrlEOT); err != nil {
				return err
			}
			if err := c.expectByte(ch, ctrlACK, &canCount, log); err != nil {
				return err
			}
			if err := c.expectByte(ch, ctrlC, &canCount, log); err != nil {
				return err
			}
			state = ysBatchEnd

		case ysBatchEnd:
			payload := make([]byte, shortBlockSize)
			for i := range payload {
				payload[i] = ymodemHeaderPadByte
			}
			if err := c.sendYBlockExpecting(ch, 0, payload, ctrlACK, &canCount, log); err != nil {
				return err
			}
			state = ysDone
		}
	}

	rep.Report(Event{Phase: "done", Filename: filename, TotalBytes: size})
	return nil
}

// sendYBlockExpecting sends one CRC-16 YMODEM block and resends it until
// the peer responds with want, a CAN-CAN cancel is seen, or the main
// error budget is exhausted. Mirrors Config.sendBlockRetrying.
func (c *YConfig) sendYBlockExpecting(ch Channel, seq uint8, payload []byte, want byte, canCount *int, log *slog.Logger) error {
	packet := encodeDataPacket(seq, payload, Crc16)
	for {
		if err := writeAll(ch, packet); err != nil {
			return err
		}
		b, ok, err := readByteTimeout(ch)
		if err != nil {
			return err
		}
		if ok && b == want {
			*canCount = 0
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
		log.Warn("ymodem send block retry", "seq", seq, "want", want)
	}
}

// expectByte reads one byte with timeout and loops until it equals want,
// counting a protocol error (main budget) per wrong/missing byte, and
// detecting a CAN-CAN cancel along the way.
func (c *YConfig) expectByte(ch Channel, want byte, canCount *int, log *slog.Logger) error {
	for {
		b, ok, err := readByteTimeout(ch)
		if err != nil {
			return err
		}
		if ok && b == want {
			*canCount = 0
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
		log.Warn("ymodem send: unexpected response", "want", want, "got", b, "ok", ok)
	}
}

// marshalHeaderBlock builds the 128-byte YMODEM header payload: filename,
// NUL, decimal ASCII file size, then 0x00 padding to 128 bytes.
func marshalHeaderBlock(filename string, size uint64) []byte {
	buf := make([]byte, 0, shortBlockSize)
	buf = append(buf, []byte(filename)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(fmt.Sprintf("%d", size))...)
	out := make([]byte, shortBlockSize)
	copy(out, buf)
	for i := len(buf); i < shortBlockSize; i++ {
		out[i] = ymodemHeaderPadByte
	}
	return out
}

// parseHeaderBlock parses a 128-byte YMODEM header payload into a
// filename and size. isEndOfBatch is true when the filename field is
// empty, signalling no further files.
func parseHeaderBlock(payload []byte, ignoreNonDigits bool) (filename string, size uint64, isEndOfBatch bool) {
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		nul = len(payload)
	}
	filename = string(payload[:nul])
	if filename == "" {
		return "", 0, true
	}

	rest := payload[nul:]
	if len(rest) > 0 && rest[0] == 0 {
		rest = rest[1:]
	}
	nul2 := bytes.IndexByte(rest, 0)
	if nul2 < 0 {
		nul2 = len(rest)
	}
	sizeField := rest[:nul2]

	if ignoreNonDigits {
		filtered := make([]byte, 0, len(sizeField))
		for _, b := range sizeField {
			if b >= '0' && b <= '9' {
				filtered = append(filtered, b)
			}
		}
		sizeField = filtered
	}

	text := string(sizeField)
	if n, err := strconv.ParseUint(text, 10, 64); err == nil {
		size = n
		return filename, size, false
	}
	if sp := indexByte(text, ' '); sp >= 0 {
		text = text[:sp]
	}
	n, _ := strconv.ParseUint(text, 10, 64)
	return filename, n, false
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

type yrecvState int

const (
	yrHandshake yrecvState = iota
	yrHeader
	yrData
	yrBatchEnd
	yrDone
)

// Receive drives a YMODEM receiver state machine: performs the initial
// handshake, reads the header block, accumulates data blocks, and
// delivers exactly size octets to w once the transfer completes (or the
// sender's end-of-batch header arrives).
func (c *YConfig) Receive(ctx context.Context, ch Channel, w io.Writer) (filename string, size uint64, err error) {
	c.errors = 0
	c.initialErrors = 0
	log := loggerOrDefault(c.Logger)
	rep := reporterOrNop(c.Progress)

	state := yrHandshake
	var (
		expected   uint8 = 1
		firstEOT   bool
		canCount   int
		buf        bytes.Buffer
	)

	for state != yrDone {
		if cerr := ctx.Err(); cerr != nil {
			return "", 0, cerr
		}

		switch state {
		case yrHandshake:
			if err := writeByte(ch, ctrlC); err != nil {
				return "", 0, err
			}
			b, ok, rerr := readByteTimeout(ch)
			if rerr != nil {
				return "", 0, rerr
			}
			if ok && b == ctrlSOH {
				state = yrHeader
				continue
			}
			c.initialErrors++
			if c.initialErrors >= c.MaxInitialErrors {
				return "", 0, exhaustedRetries(c.initialErrors)
			}

		case yrHeader:
			_, seqOK, payload, sumOK, rerr := readDataPacketBody(ch, shortBlockSize, Crc16)
			if rerr != nil {
				return "", 0, rerr
			}
			if !seqOK || !sumOK {
				if err := writeByte(ch, ctrlNAK); err != nil {
					return "", 0, err
				}
				state = yrHandshake
				continue
			}
			if err := writeByte(ch, ctrlACK); err != nil {
				return "", 0, err
			}
			if err := writeByte(ch, ctrlC); err != nil {
				return "", 0, err
			}
			fn, sz, end := parseHeaderBlock(payload, c.IgnoreNonDigitsOnFileSize)
			if end {
				rep.Report(Event{Phase: "done"})
				return "", 0, nil
			}
			filename, size = fn, sz
			expected = 1
			rep.Report(Event{Phase: "negotiating", Filename: filename, TotalBytes: size})
			state = yrData

		case yrData:
			b, ok, rerr := readByteTimeout(ch)
			if rerr != nil {
				return "", 0, rerr
			}
			switch {
			case ok && (b == ctrlSOH || b == ctrlSTX):
				psize, _ := payloadSizeForHeader(b)
				seq, seqOK, payload, sumOK, derr := readDataPacketBody(ch, psize, Crc16)
				if derr != nil {
					return "", 0, derr
				}
				if seq != expected || !seqOK {
					bestEffortCancel(ch)
					bestEffortCancel(ch)
					return "", 0, canceled()
				}
				if !sumOK {
					if err := writeByte(ch, ctrlNAK); err != nil {
						return "", 0, err
					}
					c.errors++
					break
				}
				if err := writeByte(ch, ctrlACK); err != nil {
					return "", 0, err
				}
				buf.Write(payload)
				expected = nextSeq(expected)
				rep.Report(Event{Phase: "receiving", Filename: filename, Bytes: uint64(buf.Len()), TotalBytes: size})

			case ok && b == ctrlEOT && !firstEOT:
				firstEOT = true
				if err := writeByte(ch, ctrlNAK); err != nil {
					return "", 0, err
				}

			case ok && b == ctrlEOT && firstEOT:
				if err := writeByte(ch, ctrlACK); err != nil {
					return "", 0, err
				}
				if err := writeByte(ch, ctrlC); err != nil {
					return "", 0, err
				}
				state = yrBatchEnd

			case ok && b == ctrlCAN:
				canCount++
				if canCount >= 2 {
					return "", 0, canceled()
				}

			default:
				canCount = 0
				c.errors++
				log.Debug("ymodem receive: unexpected byte", "byte", b, "ok", ok)
			}
			if c.errors >= c.MaxErrors {
				bestEffortCancel(ch)
				return "", 0, exhaustedRetries(c.errors)
			}

		case yrBatchEnd:
			// The sender's batch-terminating empty header, if any, is
			// consumed here without touching the already-captured
			// filename/size of the file this call delivered.
			b, ok, rerr := readByteTimeout(ch)
			if rerr != nil {
				return "", 0, rerr
			}
			if ok && b == ctrlSOH {
				_, seqOK, _, sumOK, derr := readDataPacketBody(ch, shortBlockSize, Crc16)
				if derr != nil {
					return "", 0, derr
				}
				if seqOK && sumOK {
					if err := writeByte(ch, ctrlACK); err != nil {
						return "", 0, err
					}
				} else {
					if err := writeByte(ch, ctrlNAK); err != nil {
						return "", 0, err
					}
				}
			}
			state = yrDone
		}
	}

	delivered := buf.Bytes()
	if uint64(len(delivered)) > size {
		delivered = delivered[:size]
	}
	if _, err := w.Write(delivered); err != nil {
		return filename, size, ioFailure(err)
	}
	rep.Report(Event{Phase: "done", Filename: filename, Bytes: uint64(len(delivered)), TotalBytes: size})
	return filename, size, nil
}
