package kernel

import (
	"context"
	"errors"
)

// ErrClosed is returned when using a closed transport.
var ErrClosed = errors.New("transport closed")

// Channel names one of the kernel's sockets.
type Channel string

const (
	ChannelShell     Channel = "shell"
	ChannelControl   Channel = "control"
	ChannelIOPub     Channel = "iopub"
	ChannelHeartbeat Channel = "hb"
)

// Transport moves raw multipart frames to and from a kernel.
type Transport interface {
	// Send writes one multipart message to the channel.
	Send(ctx context.Context, ch Channel, frames [][]byte) error

	// Recv blocks until a message arrives on the channel or ctx is done.
	// A ctx deadline surfaces as context.DeadlineExceeded.
	Recv(ctx context.Context, ch Channel) ([][]byte, error)

	// Close releases all sockets. Pending Recv calls return ErrClosed.
	Close() error
}
