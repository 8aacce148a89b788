package proto

import (
	"github.com/rotisserie/eris"
)

// Message is a decoded protocol message of either direction.
type Message interface {
	Opcode() uint8
}

// Marshaler is a message that can be put back on the wire. Every STOC
// message implements it; CTOS messages implement it too so tests and
// internal peers can speak the client side of the protocol.
type Marshaler interface {
	Message
	MarshalPayload() ([]byte, error)
}

// Registry maps the opcodes of one direction to payload decoders.
type Registry struct {
	direction string
	decoders  map[uint8]func(body []byte) (Message, error)
}

// NewRegistry returns an empty registry. direction is only used in errors.
func NewRegistry(direction string) *Registry {
	return &Registry{
		direction: direction,
		decoders:  make(map[uint8]func(body []byte) (Message, error)),
	}
}

// Register installs a decoder for op. Registering the same opcode twice
// panics; opcode tables are wired once at init time.
func (r *Registry) Register(op uint8, fn func(body []byte) (Message, error)) {
	if _, dup := r.decoders[op]; dup {
		panic(eris.Errorf("%s opcode %#02x registered twice", r.direction, op))
	}
	r.decoders[op] = fn
}

// Decode resolves and decodes one frame body (opcode byte included).
func (r *Registry) Decode(frame []byte) (Message, error) {
	if len(frame) < 1 {
		return nil, eris.Errorf("%s frame missing opcode", r.direction)
	}
	op := frame[0]
	fn, ok := r.decoders[op]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownOpcode, "%s %#02x", r.direction, op)
	}
	msg, err := fn(frame[1:])
	if err != nil {
		return nil, eris.Wrapf(err, "decode %s %#02x", r.direction, op)
	}
	return msg, nil
}

// Known reports whether the registry has a decoder for op.
func (r *Registry) Known(op uint8) bool {
	_, ok := r.decoders[op]
	return ok
}
