// Package memory keeps sent notifications in process for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/gazette-watch/internal/notify"
)

// Outbox records every message it is asked to send.
type Outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	// Err, when set, fails every Send.
	Err error
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Send appends msgs to the outbox.
func (o *Outbox) Send(ctx context.Context, msgs ...notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors pass through
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.sent = append(o.sent, msgs...)
	return nil
}

// Sent returns a copy of the delivered messages.
func (o *Outbox) Sent() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]notify.Message, len(o.sent))
	copy(out, o.sent)
	return out
}
