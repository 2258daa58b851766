package logstore

import "context"

// Sink is the remote collector side of an upload. Payload is the raw local
// storage snapshot: newline-delimited JSON entries, oldest first.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, payload []byte) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}
