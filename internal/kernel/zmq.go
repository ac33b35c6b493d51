package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// inboxSize bounds the number of undelivered messages per channel.
const inboxSize = 1024

// ZMQTransport implements Transport over ZeroMQ sockets.
type ZMQTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	sockets map[Channel]zmq4.Socket
	inbox   map[Channel]chan [][]byte

	// mu protects errs and hbBusy
	mu     sync.Mutex
	errs   map[Channel]error
	hbBusy bool

	closeOnce sync.Once
}

// DialZMQ connects to all kernel channels described by info. The identity is
// used as the routing id of the shell and control DEALER sockets.
func DialZMQ(ctx context.Context, info *ConnectionInfo, identity string) (*ZMQTransport, error) {
	sctx, cancel := context.WithCancel(ctx)
	t := &ZMQTransport{
		ctx:     sctx,
		cancel:  cancel,
		sockets: make(map[Channel]zmq4.Socket),
		inbox:   make(map[Channel]chan [][]byte),
		errs:    make(map[Channel]error),
	}

	id := zmq4.SocketIdentity(identity)
	sockets := []struct {
		ch   Channel
		sock zmq4.Socket
		port int
	}{
		{ChannelShell, zmq4.NewDealer(sctx, zmq4.WithID(id)), info.ShellPort},
		{ChannelControl, zmq4.NewDealer(sctx, zmq4.WithID(id)), info.ControlPort},
		{ChannelIOPub, zmq4.NewSub(sctx), info.IOPubPort},
		{ChannelHeartbeat, zmq4.NewReq(sctx), info.HBPort},
	}

	for _, s := range sockets {
		t.sockets[s.ch] = s.sock
		endpoint := info.Endpoint(s.port)
		if err := s.sock.Dial(endpoint); err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to dial %s channel at %s: %w", s.ch, endpoint, err)
		}
	}

	if err := t.sockets[ChannelIOPub].SetOption(zmq4.OptionSubscribe, ""); err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to subscribe to iopub: %w", err)
	}

	for _, ch := range []Channel{ChannelShell, ChannelControl, ChannelIOPub, ChannelHeartbeat} {
		t.inbox[ch] = make(chan [][]byte, inboxSize)
	}
	for _, ch := range []Channel{ChannelShell, ChannelControl, ChannelIOPub} {
		go t.readLoop(ch)
	}

	return t, nil
}

// readLoop drains a socket into its inbox until the socket fails.
func (t *ZMQTransport) readLoop(ch Channel) {
	sock := t.sockets[ch]
	inbox := t.inbox[ch]
	defer close(inbox)

	for {
		msg, err := sock.Recv()
		if err != nil {
			t.setErr(ch, err)
			return
		}
		select {
		case inbox <- msg.Frames:
		case <-t.ctx.Done():
			t.setErr(ch, ErrClosed)
			return
		}
	}
}

// Send writes frames to the channel. On the heartbeat channel the echo is
// read in the background and delivered to the next Recv.
func (t *ZMQTransport) Send(ctx context.Context, ch Channel, frames [][]byte) error {
	if err := t.ctx.Err(); err != nil {
		return ErrClosed
	}
	sock, ok := t.sockets[ch]
	if !ok {
		return fmt.Errorf("unknown channel %q", ch)
	}

	if ch == ChannelHeartbeat {
		return t.ping(sock, frames)
	}

	if err := sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("failed to send on %s: %w", ch, err)
	}
	return nil
}

// ping runs one REQ/REP round trip without blocking the caller.
func (t *ZMQTransport) ping(sock zmq4.Socket, frames [][]byte) error {
	t.mu.Lock()
	if t.hbBusy {
		t.mu.Unlock()
		return fmt.Errorf("heartbeat already in flight")
	}
	t.hbBusy = true
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.hbBusy = false
			t.mu.Unlock()
		}()

		if err := sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
			t.setErr(ChannelHeartbeat, err)
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			t.setErr(ChannelHeartbeat, err)
			return
		}
		select {
		case t.inbox[ChannelHeartbeat] <- msg.Frames:
		case <-t.ctx.Done():
		}
	}()
	return nil
}

// Recv returns the next message on the channel.
func (t *ZMQTransport) Recv(ctx context.Context, ch Channel) ([][]byte, error) {
	inbox, ok := t.inbox[ch]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", ch)
	}

	if t.ctx.Err() != nil {
		return nil, ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, ErrClosed
	case frames, ok := <-inbox:
		if !ok {
			if t.ctx.Err() != nil {
				return nil, ErrClosed
			}
			return nil, t.err(ch)
		}
		return frames, nil
	}
}

// Close closes every socket. It is safe to call more than once.
func (t *ZMQTransport) Close() error {
	var firstErr error
	t.closeOnce.Do(func() {
		t.cancel()
		for ch, sock := range t.sockets {
			if err := sock.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close %s socket: %w", ch, err)
			}
		}
	})
	return firstErr
}

func (t *ZMQTransport) setErr(ch Channel, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.errs[ch] == nil {
		t.errs[ch] = err
	}
}

func (t *ZMQTransport) err(ch Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.errs[ch]; err != nil {
		return fmt.Errorf("%s channel: %w", ch, err)
	}
	return ErrClosed
}

// Verify ZMQTransport implements Transport interface.
var _ Transport = (*ZMQTransport)(nil)
