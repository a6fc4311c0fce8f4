package xymodem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// scriptChannel feeds pre-recorded bytes to Read and records every Write,
// for exercising a single side of the protocol against literal byte
// sequences (spec §8 scenarios S1-S4) without a live peer.
type scriptChannel struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newScriptChannel(in []byte) *scriptChannel {
	return &scriptChannel{in: bytes.NewReader(in)}
}

func (s *scriptChannel) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *scriptChannel) Write(p []byte) (int, error) { return s.out.Write(p) }

func runLoopback(t *testing.T, send func(ctx context.Context, ch Channel) error, recv func(ctx context.Context, ch Channel) error) (sendErr, recvErr error) {
	t.Helper()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = send(ctx, c1)
	}()
	go func() {
		defer wg.Done()
		recvErr = recv(ctx, c2)
	}()
	wg.Wait()
	return
}

func TestXModemLoopbackStandard(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	var received bytes.Buffer

	sendErr, recvErr := runLoopback(t,
		func(ctx context.Context, ch Channel) error {
			cfg := NewConfig()
			return cfg.Send(ctx, ch, bytes.NewReader(payload))
		},
		func(ctx context.Context, ch Channel) error {
			cfg := NewConfig()
			return cfg.Receive(ctx, ch, &received, Standard)
		},
	)
	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}

	if !bytes.Equal(received.Bytes()[:len(payload)], payload) {
		t.Fatalf("payload prefix mismatch")
	}
	tail := received.Bytes()[len(payload):]
	for _, b := range tail {
		if b != defaultPadByte {
			t.Fatalf("padding byte = 0x%02x, want 0x%02x", b, defaultPadByte)
		}
	}
	if len(tail) >= shortBlockSize {
		t.Fatalf("padding length %d should be < block length %d", len(tail), shortBlockSize)
	}
}

func TestXModemLoopbackCRC16(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 500) // spans multiple 1024 blocks
	var received bytes.Buffer

	sendErr, recvErr := runLoopback(t,
		func(ctx context.Context, ch Channel) error {
			cfg := NewConfig()
			cfg.BlockLength = OneK1024
			return cfg.Send(ctx, ch, bytes.NewReader(payload))
		},
		func(ctx context.Context, ch Channel) error {
			cfg := NewConfig()
			return cfg.Receive(ctx, ch, &received, Crc16)
		},
	)
	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}
	if !bytes.Equal(received.Bytes()[:len(payload)], payload) {
		t.Fatal("payload prefix mismatch")
	}
}

// TestXModemLoopbackSequenceWrap exercises spec property 3: a payload
// spanning at least 257 blocks forces the sequence counter through a
// 255->0 wrap, and every block must still be delivered in order.
func TestXModemLoopbackSequenceWrap(t *testing.T) {
	payload := make([]byte, shortBlockSize*260)
	for i := range payload {
		payload[i] = byte(i)
	}
	var received bytes.Buffer

	sendErr, recvErr := runLoopback(t,
		func(ctx context.Context, ch Channel) error {
			cfg := NewConfig()
			return cfg.Send(ctx, ch, bytes.NewReader(payload))
		},
		func(ctx context.Context, ch Channel) error {
			cfg := NewConfig()
			return cfg.Receive(ctx, ch, &received, Standard)
		},
	)
	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatal("content mismatch across sequence wrap")
	}
}

// TestXModemReceiveS3 reproduces spec scenario S3 literally: engine emits
// NAK, peer sends one good block then EOT, engine ACKs both.
func TestXModemReceiveS3(t *testing.T) {
	payload := make([]byte, shortBlockSize)
	for i := range payload {
		payload[i] = byte('x')
	}
	block := encodeDataPacket(1, payload, Standard)
	script := append(append([]byte{}, block...), ctrlEOT)

	ch := newScriptChannel(script)
	var out bytes.Buffer
	cfg := NewConfig()
	err := cfg.Receive(context.Background(), ch, &out, Standard)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Error("delivered payload mismatch")
	}

	want := []byte{ctrlNAK, ctrlACK, ctrlACK}
	if !bytes.Equal(ch.out.Bytes(), want) {
		t.Errorf("emitted bytes = % x, want % x", ch.out.Bytes(), want)
	}
}

// TestXModemReceiveSequenceMismatchS4 reproduces spec scenario S4: a
// sequence-2 block where seq 1 was expected causes a double-CAN cancel.
func TestXModemReceiveSequenceMismatchS4(t *testing.T) {
	payload := make([]byte, shortBlockSize)
	block := encodeDataPacket(2, payload, Standard)

	ch := newScriptChannel(block)
	var out bytes.Buffer
	cfg := NewConfig()
	err := cfg.Receive(context.Background(), ch, &out, Standard)

	var xerr *Error
	if !errors.As(err, &xerr) || xerr.Kind != KindCanceled {
		t.Fatalf("err = %v, want Canceled", err)
	}

	want := []byte{ctrlNAK, ctrlCAN, ctrlCAN}
	if !bytes.Equal(ch.out.Bytes(), want) {
		t.Errorf("emitted bytes = % x, want % x", ch.out.Bytes(), want)
	}
}

// TestXModemChecksumRejection exercises spec property 4: corrupting the
// checksum byte causes the block to be NAK-ed instead of delivered.
func TestXModemChecksumRejection(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, shortBlockSize)
	block := encodeDataPacket(1, payload, Standard)
	block[len(block)-1] ^= 0xFF // corrupt checksum

	good := encodeDataPacket(1, payload, Standard)
	script := append(append(append([]byte{}, block...), good...), ctrlEOT)

	ch := newScriptChannel(script)
	var out bytes.Buffer
	cfg := NewConfig()
	if err := cfg.Receive(context.Background(), ch, &out, Standard); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Error("payload should be delivered once from the retried good block")
	}
	// First response must be NAK (rejecting the corrupt block), not ACK.
	if ch.out.Bytes()[1] != ctrlNAK {
		t.Errorf("first data response = 0x%02x, want NAK", ch.out.Bytes()[1])
	}
}

// TestXModemCancelDuringNegotiate exercises spec property 5: two CAN
// bytes at any point terminate the transfer as Canceled.
func TestXModemCancelDuringNegotiate(t *testing.T) {
	ch := newScriptChannel([]byte{ctrlCAN, ctrlCAN})
	cfg := NewConfig()
	err := cfg.Send(context.Background(), ch, bytes.NewReader([]byte("data")))

	var xerr *Error
	if !errors.As(err, &xerr) || xerr.Kind != KindCanceled {
		t.Fatalf("err = %v, want Canceled", err)
	}
}

// TestXModemRetryBudgetExhausted exercises spec property 6: max_errors
// corrupt negotiation responses in a row exhaust the retry budget.
func TestXModemRetryBudgetExhausted(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxErrors = 4

	garbage := bytes.Repeat([]byte{0xFF}, int(cfg.MaxErrors)+2)
	ch := newScriptChannel(garbage)

	err := cfg.Send(context.Background(), ch, bytes.NewReader([]byte("x")))

	count, ok := IsExhausted(err)
	if !ok {
		t.Fatalf("err = %v, want ExhaustedRetries", err)
	}
	if count != cfg.MaxErrors {
		t.Errorf("exhausted count = %d, want %d", count, cfg.MaxErrors)
	}
}

// TestXModemEOTIdempotence exercises spec property 7: a non-ACK response
// to EOT causes EOT to be resent, and a subsequent ACK completes cleanly.
func TestXModemEOTIdempotence(t *testing.T) {
	payload := []byte("ok")
	ackForBlock := []byte{ctrlACK}

	// First EOT gets garbage, second EOT gets ACK.
	recvScript := append(append([]byte{ctrlNAK}, ackForBlock...), 0x00, ctrlACK)
	ch := newScriptChannel(recvScript)

	cfg := NewConfig()
	r := bytes.NewReader(payload[:2])
	err := cfg.Send(context.Background(), ch, r)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Two EOT bytes should have been written: one that got the garbage
	// response, one that got ACK.
	eotCount := bytes.Count(ch.out.Bytes(), []byte{ctrlEOT})
	if eotCount != 2 {
		t.Errorf("EOT emitted %d times, want 2", eotCount)
	}
}

func TestXModemReceiveContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := newScriptChannel(nil)
	cfg := NewConfig()
	err := cfg.Receive(ctx, ch, io.Discard, Standard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
