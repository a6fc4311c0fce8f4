// Package xymodem implements the XMODEM and YMODEM file-transfer
// protocols over an octet-oriented duplex channel.
//
// Both protocols are driven synchronously: the caller supplies a Channel
// (anything implementing io.Reader and io.Writer, typically a serial port
// with a configured read timeout) and the engine blocks inside Channel.Read
// until a byte arrives or the channel's own timeout elapses. The supplied
// context is checked between reads, so a canceled context ends the
// transfer once the current read returns.
//
// XMODEM transfers a single anonymous byte stream in 128- or 1024-byte
// blocks, checksummed with either an 8-bit sum or CRC-16/XMODEM. YMODEM
// adds a leading header block carrying the filename and size, a
// termination handshake, and a batch-terminating empty header.
package xymodem
