// Package proto implements the YGOPro wire protocol: length-prefixed binary
// frames carrying one opcode-tagged message each.
//
// A frame on the wire is `u16 length (LE) | u8 opcode | body`, where length
// counts the opcode plus body. Client-to-server (CTOS) and server-to-client
// (STOC) opcodes live in independent spaces, each with its own Registry.
package proto

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
)

const (
	// headerSize is the length prefix plus the opcode byte. A frame can
	// only be parsed once this many bytes are buffered.
	headerSize = 3

	// DefaultMaxFrameBytes bounds a single frame (prefix included).
	DefaultMaxFrameBytes = 64 * 1024

	// DefaultMaxBufferBytes bounds the accumulation buffer while waiting
	// for a full frame.
	DefaultMaxBufferBytes = 4 * 1024 * 1024
)

// ErrBufferOverflow is returned by Decoder.Feed when the accumulation buffer
// exceeds its maximum before a full frame is available. It is fatal for the
// connection; the buffer has been reset and the caller should drop the peer.
var ErrBufferOverflow = eris.New("frame buffer overflow")

// ErrFrameTooLarge reports a single frame whose declared length exceeds the
// per-frame maximum. The decoder skips the frame and keeps going.
var ErrFrameTooLarge = eris.New("frame exceeds maximum size")

// ErrUnknownOpcode reports a frame whose opcode has no registered decoder.
var ErrUnknownOpcode = eris.New("unknown opcode")

// DecoderConfig tunes a Decoder. Zero values fall back to the defaults.
type DecoderConfig struct {
	MaxFrameBytes  int
	MaxBufferBytes int
	// OnError receives non-fatal decode errors (oversized or malformed
	// frames). May be nil.
	OnError func(error)
}

// Decoder is a stateful stream-to-message transducer. Feed it byte chunks
// with arbitrary boundaries and it yields decoded messages in wire order.
//
// A malformed or oversized frame is reported through OnError and skipped;
// only an accumulation-buffer overflow is fatal. A Decoder is not safe for
// concurrent use.
type Decoder struct {
	reg       *Registry
	maxFrame  int
	maxBuffer int
	onError   func(error)

	buf  []byte
	skip int
}

// NewDecoder returns a Decoder that resolves opcodes against reg.
func NewDecoder(reg *Registry, cfg DecoderConfig) *Decoder {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}
	return &Decoder{
		reg:       reg,
		maxFrame:  cfg.MaxFrameBytes,
		maxBuffer: cfg.MaxBufferBytes,
		onError:   cfg.OnError,
	}
}

func (d *Decoder) reportError(err error) {
	if d.onError != nil {
		d.onError(err)
	}
}

// Feed appends chunk to the accumulation buffer and extracts every complete
// frame from it. The returned error is non-nil only for ErrBufferOverflow,
// which resets the decoder; all other failures are frame-local and routed
// to OnError.
func (d *Decoder) Feed(chunk []byte) ([]Message, error) {
	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	if len(d.buf) > d.maxBuffer {
		d.buf = nil
		d.skip = 0
		return nil, ErrBufferOverflow
	}

	var out []Message
	for {
		// Consume bytes owed to a previously skipped oversized frame.
		if d.skip > 0 {
			if len(d.buf) <= d.skip {
				d.skip -= len(d.buf)
				d.buf = nil
				return out, nil
			}
			d.buf = d.buf[d.skip:]
			d.skip = 0
		}

		if len(d.buf) < headerSize {
			return out, nil
		}

		length := int(binary.LittleEndian.Uint16(d.buf[:2]))
		if length < 1 {
			// Zero-payload frame is a keepalive no-op.
			d.buf = d.buf[2:]
			continue
		}

		total := 2 + length
		if total > d.maxFrame {
			d.reportError(eris.Wrapf(ErrFrameTooLarge, "declared %d bytes", total))
			// Trust the hostile length prefix to resynchronize.
			d.skip = total
			continue
		}

		if len(d.buf) < total {
			return out, nil
		}

		frame := d.buf[2:total]
		d.buf = d.buf[total:]

		msg, err := d.reg.Decode(frame)
		if err != nil {
			d.reportError(err)
			continue
		}
		out = append(out, msg)
	}
}

// Buffered reports how many undecoded bytes the decoder is holding.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// EncodeFrame serializes msg into a complete wire frame.
func EncodeFrame(msg Marshaler) ([]byte, error) {
	body, err := msg.MarshalPayload()
	if err != nil {
		return nil, eris.Wrapf(err, "encode opcode %#02x", msg.Opcode())
	}
	frame := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint16(frame[:2], uint16(1+len(body)))
	frame[2] = msg.Opcode()
	copy(frame[headerSize:], body)
	return frame, nil
}
