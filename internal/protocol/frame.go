package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	// HeaderSize is the fixed frame header length
	HeaderSize = 10
	// MaxPayload bounds a single frame's payload
	MaxPayload = 16 << 20

	compressThreshold = 4 << 10
	flagCompressed    = 1 << 0
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayload))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Encode serializes an envelope into one complete frame
func Encode(env Envelope) ([]byte, error) {
	payload, err := encodePayload(env)
	if err != nil {
		return nil, err
	}
	t := env.Message.Type()

	var flags byte
	if len(payload) >= compressThreshold {
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, &EncodeError{Type: t, Err: err}
		}
		if packed := enc.EncodeAll(payload, nil); len(packed) < len(payload) {
			payload = packed
			flags |= flagCompressed
		}
	}
	if len(payload) > MaxPayload {
		return nil, &EncodeError{Type: t, Err: fmt.Errorf("payload of %d bytes exceeds %d", len(payload), MaxPayload)}
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	frame[4] = byte(t.Category())
	frame[5] = flags
	binary.BigEndian.PutUint32(frame[6:10], checksum(payload))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

func checksum(payload []byte) uint32 {
	return uint32(xxhash.Sum64(payload))
}

// Decoder accumulates stream bytes and splits them into frames
type Decoder struct {
	buf []byte
}

// Feed appends bytes read from the stream
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame, or ErrIncomplete when more bytes are
// needed. A *DecodeError leaves the stream unusable.
func (d *Decoder) Next() (Envelope, error) {
	if len(d.buf) < HeaderSize {
		return Envelope{}, ErrIncomplete
	}

	length := binary.BigEndian.Uint32(d.buf[0:4])
	if length > MaxPayload {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("frame length %d exceeds %d", length, MaxPayload)}
	}
	category := Category(d.buf[4])
	if category < CategoryCommand || category > CategoryResponse {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("unknown %s", category)}
	}
	total := HeaderSize + int(length)
	if len(d.buf) < total {
		return Envelope{}, ErrIncomplete
	}

	flags := d.buf[5]
	sum := binary.BigEndian.Uint32(d.buf[6:10])
	payload := make([]byte, length)
	copy(payload, d.buf[HeaderSize:total])
	d.consume(total)

	if checksum(payload) != sum {
		return Envelope{}, &DecodeError{Reason: "checksum mismatch"}
	}
	if flags&flagCompressed != 0 {
		_, dec, err := zstdCodec()
		if err != nil {
			return Envelope{}, &DecodeError{Reason: "zstd unavailable", Err: err}
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return Envelope{}, &DecodeError{Reason: "corrupt compressed payload", Err: err}
		}
	}
	return decodePayload(category, payload)
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
