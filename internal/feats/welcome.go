package feats

import (
	"context"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
	"github.com/moecube/duelrelay/internal/room"
)

// Welcome greets every arrival with the operator's configured notice.
type Welcome struct {
	message string
}

// NewWelcome builds the greeter. An empty message disables it.
func NewWelcome(message string) *Welcome {
	return &Welcome{message: message}
}

// Register hooks the room join event after all other handlers.
func (f *Welcome) Register(d *dispatch.Dispatcher) {
	d.HandleAfter(room.KindJoin, f.onJoin)
}

func (f *Welcome) onJoin(_ context.Context, _ dispatch.Event, c *conn.Conn, next func() error) error {
	if f.message != "" && c != nil {
		c.SendChat(f.message, proto.ChatColorGreen)
	}
	return next()
}
