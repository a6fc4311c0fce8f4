package progress

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/modemkit/xymodem"
)

func TestEventRoundTripsThroughCBOR(t *testing.T) {
	ev := xymodem.Event{
		Phase:      "sending",
		Filename:   "firmware.bin",
		Bytes:      4096,
		TotalBytes: 65536,
	}

	data, err := cbor.Marshal(ev)
	assert.NoError(t, err)

	var got xymodem.Event
	assert.NoError(t, cbor.Unmarshal(data, &got))
	assert.Equal(t, ev, got)
}

func TestReportSwallowsPublishFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listens here
	r := NewRedisReporter(client, "xymodem:progress", nil)

	assert.NotPanics(t, func() {
		r.Report(xymodem.Event{Phase: "done"})
	})
}
