package websocket

import (
	"context"
)

// HandleFunc serves one inbound text message and returns the message to send
// back, or nil when there is nothing to answer (notifications). ctx is
// canceled when the connection goes away.
type HandleFunc func(ctx context.Context, message []byte) []byte
