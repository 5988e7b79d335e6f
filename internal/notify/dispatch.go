package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Dispatcher sends one rendered message per watcher.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
}

// NewDispatcher wires a transport with a per-send timeout.
func NewDispatcher(transport Transport, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{transport: transport, timeout: timeout, logger: logger}
}

// Dispatch delivers msg on behalf of watcherID. Every failure comes back as
// a *gazette.DeliveryError.
func (d *Dispatcher) Dispatch(ctx context.Context, watcherID int64, msg Message) error {
	if len(msg.To) == 0 {
		return &gazette.DeliveryError{WatcherID: watcherID, Err: errors.New("no recipients")}
	}
	if d.transport == nil {
		return &gazette.DeliveryError{WatcherID: watcherID, Err: errors.New("no mail transport configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.transport.Send(ctx, msg); err != nil {
		return &gazette.DeliveryError{WatcherID: watcherID, Err: err}
	}
	d.logger.Info("notification sent",
		zap.Int64("watcher_id", watcherID),
		zap.Int("recipients", len(msg.To)),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}
