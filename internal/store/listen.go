package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Notification is one LISTEN/NOTIFY message.
type Notification struct {
	Channel string
	Payload string
}

// Listener holds a dedicated connection subscribed to NOTIFY channels and
// forwards notifications to a callback. The loop reconnects with backoff on
// transient errors and exits only when the context is cancelled.
type Listener struct {
	store    *Store
	channels []string
	logger   *zap.Logger
}

// NewListener creates a listener for the given channels.
func NewListener(store *Store, channels []string, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		store:    store,
		channels: channels,
		logger:   logger.Named("listener"),
	}
}

// Run blocks delivering notifications to handle until ctx is cancelled.
// Connection loss is retried with a fixed delay; the dedicated connection is
// acquired outside the shared pool budget semantics but returned on exit.
func (l *Listener) Run(ctx context.Context, handle func(Notification)) error {
	const reconnectDelay = 3 * time.Second

	for {
		err := l.listenOnce(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.logger.Warn("listen connection lost, reconnecting",
				zap.Error(err), zap.Duration("delay", reconnectDelay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, handle func(Notification)) error {
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	// The connection carries LISTEN state, so it must never re-enter the
	// pool alive. Close runs before Release (LIFO), leaving Release a dead
	// connection that pgxpool destroys instead of handing out.
	defer conn.Release()
	defer conn.Conn().Close(context.Background())

	for _, channel := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
			return fmt.Errorf("failed to LISTEN %s: %w", channel, err)
		}
	}
	l.logger.Info("listening", zap.Strings("channels", l.channels))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handle(Notification{Channel: n.Channel, Payload: n.Payload})
	}
}

// quoteIdent double-quotes a channel identifier.
func quoteIdent(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}
