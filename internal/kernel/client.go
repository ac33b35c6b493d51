package kernel

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"time"

	"github.com/google/uuid"
	"github.com/thruflo/knitron/internal/logging"
)

// ErrHeartbeatTimeout is returned when the kernel does not echo a heartbeat.
var ErrHeartbeatTimeout = errors.New("kernel heartbeat timed out")

const (
	// DefaultPollInterval bounds each IOPub receive before retrying.
	DefaultPollInterval = 100 * time.Millisecond

	// replyPolls is how many poll intervals to wait for a shell reply once
	// the kernel has gone idle.
	replyPolls = 10

	// readyAttempt is how long WaitReady waits before resending kernel_info.
	readyAttempt = time.Second
)

// Client submits requests to a kernel and collects its broadcasts.
// A Client is used by one goroutine at a time.
type Client struct {
	transport    Transport
	signer       *Signer
	session      string
	username     string
	pollInterval time.Duration
	logger       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for protocol traces.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPollInterval sets the per-receive timeout of the IOPub drain loop.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSession sets the session id sent in message headers.
func WithSession(session string) Option {
	return func(c *Client) {
		c.session = session
	}
}

// WithUsername sets the username sent in message headers.
func WithUsername(name string) Option {
	return func(c *Client) {
		c.username = name
	}
}

// NewClient creates a Client speaking over t with the key in info.
func NewClient(t Transport, info *ConnectionInfo, opts ...Option) (*Client, error) {
	signer, err := NewSigner(info.SignatureScheme, info.Key)
	if err != nil {
		return nil, err
	}

	c := &Client{
		transport:    t,
		signer:       signer,
		session:      uuid.NewString(),
		username:     currentUser(),
		pollInterval: DefaultPollInterval,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session", shortID(c.session))

	return c, nil
}

// Connect dials the kernel described by info over ZeroMQ and returns a
// Client using it. The session id doubles as the shell socket identity.
func Connect(ctx context.Context, info *ConnectionInfo, opts ...Option) (*Client, error) {
	session := uuid.NewString()
	t, err := DialZMQ(ctx, info, session)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(t, info, append([]Option{WithSession(session)}, opts...)...)
	if err != nil {
		t.Close()
		return nil, err
	}
	return client, nil
}

// Session returns the session id used in message headers.
func (c *Client) Session() string {
	return c.session
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ExecuteOptions controls an execute_request.
type ExecuteOptions struct {
	// Silent suppresses execute_result and execute_input broadcasts.
	Silent bool
	// StoreHistory records the code in the kernel's input history.
	StoreHistory bool
}

// Execution is the outcome of one execute_request.
type Execution struct {
	// MsgID is the id of the execute_request.
	MsgID string

	// Messages are the IOPub messages whose parent is the request, in
	// arrival order, ending with the idle status.
	Messages []*Message

	// Reply is the execute_reply content. Nil if the kernel did not reply
	// in time after going idle.
	Reply *ExecuteReply
}

// Execute runs code in the kernel and blocks until the kernel reports idle
// for this request. Kernel-side exceptions are not errors: they arrive as
// error messages in the Execution.
func (c *Client) Execute(ctx context.Context, code string, opts ExecuteOptions) (*Execution, error) {
	req, err := c.send(ctx, ChannelShell, MessageTypeExecuteRequest, ExecuteRequest{
		Code:            code,
		Silent:          opts.Silent,
		StoreHistory:    opts.StoreHistory,
		UserExpressions: map[string]any{},
		AllowStdin:      false,
		StopOnError:     true,
	})
	if err != nil {
		return nil, err
	}

	exec := &Execution{MsgID: req.Header.MsgID}
	log := c.logger.With("msg_id", shortID(exec.MsgID))
	log.Debug("execute_request sent", "bytes", len(code))

	empty := 0
	for {
		msg, err := c.poll(ctx, ChannelIOPub)
		if err != nil {
			return nil, fmt.Errorf("failed waiting for kernel output: %w", err)
		}
		if msg == nil {
			empty++
			if empty%50 == 0 {
				log.Debug("still waiting for idle", "empty_polls", empty)
			}
			continue
		}

		if log.Enabled(logging.LevelDebug) {
			log.Debug("iopub message", "type", msg.Type(), "parent", shortID(msg.ParentID()), "content", string(msg.Content))
		}

		if msg.ParentID() != exec.MsgID {
			continue
		}
		exec.Messages = append(exec.Messages, msg)
		if msg.IsIdle() {
			break
		}
	}

	reply, err := c.awaitReply(ctx, ChannelShell, exec.MsgID)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		log.Warn("no execute_reply after idle")
		return exec, nil
	}
	exec.Reply, err = reply.ExecuteReplyData()
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// KernelInfo requests the kernel's implementation and language details.
func (c *Client) KernelInfo(ctx context.Context) (*KernelInfoReply, error) {
	req, err := c.send(ctx, ChannelShell, MessageTypeKernelInfoRequest, map[string]any{})
	if err != nil {
		return nil, err
	}

	for {
		msg, err := c.recv(ctx, ChannelShell)
		if err != nil {
			return nil, fmt.Errorf("failed waiting for kernel_info_reply: %w", err)
		}
		if msg.ParentID() == req.Header.MsgID {
			return msg.KernelInfoData()
		}
	}
}

// WaitReady blocks until the kernel answers a kernel_info_request on shell
// and a broadcast for it arrives on IOPub. The latter proves the IOPub
// subscription is live, so no output of the next request is lost.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("kernel not ready: %w", err)
		}

		req, err := c.send(ctx, ChannelShell, MessageTypeKernelInfoRequest, map[string]any{})
		if err != nil {
			return err
		}

		gotReply, gotIOPub := false, false
		deadline := time.Now().Add(readyAttempt)
		for time.Now().Before(deadline) {
			if !gotReply {
				msg, err := c.poll(ctx, ChannelShell)
				if err != nil {
					return fmt.Errorf("kernel not ready: %w", err)
				}
				gotReply = msg != nil && msg.ParentID() == req.Header.MsgID
			}
			if !gotIOPub {
				msg, err := c.poll(ctx, ChannelIOPub)
				if err != nil {
					return fmt.Errorf("kernel not ready: %w", err)
				}
				gotIOPub = msg != nil
			}
			if gotReply && gotIOPub {
				c.logger.Debug("kernel ready")
				return nil
			}
		}
		c.logger.Info("kernel not ready yet, retrying", "reply", gotReply, "iopub", gotIOPub)
	}
}

// Heartbeat pings the kernel and waits up to timeout for the echo.
func (c *Client) Heartbeat(ctx context.Context, timeout time.Duration) error {
	ping := []byte("ping-" + uuid.NewString())
	if err := c.transport.Send(ctx, ChannelHeartbeat, [][]byte{ping}); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		frames, err := c.transport.Recv(hctx, ChannelHeartbeat)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return ErrHeartbeatTimeout
			}
			return fmt.Errorf("failed to receive heartbeat: %w", err)
		}
		if len(frames) == 1 && string(frames[0]) == string(ping) {
			return nil
		}
	}
}

// send builds, signs and sends a request.
func (c *Client) send(ctx context.Context, ch Channel, msgType MessageType, content any) (*Message, error) {
	msg, err := NewMessage(msgType, c.session, c.username, nil, content)
	if err != nil {
		return nil, err
	}
	frames, err := Encode(msg, c.signer)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, ch, frames); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return msg, nil
}

// recv blocks for the next decodable message. Malformed messages are
// skipped; a bad signature is an error since it means the key is wrong.
func (c *Client) recv(ctx context.Context, ch Channel) (*Message, error) {
	for {
		frames, err := c.transport.Recv(ctx, ch)
		if err != nil {
			return nil, err
		}
		msg, err := Decode(frames, c.signer)
		if errors.Is(err, ErrSignatureMismatch) {
			return nil, fmt.Errorf("%s channel: %w", ch, err)
		}
		if err != nil {
			c.logger.Warn("skipping malformed message", "channel", ch, "error", err)
			continue
		}
		return msg, nil
	}
}

// poll waits one poll interval for a message. It returns nil, nil when
// nothing arrived in time.
func (c *Client) poll(ctx context.Context, ch Channel) (*Message, error) {
	pctx, cancel := context.WithTimeout(ctx, c.pollInterval)
	defer cancel()

	msg, err := c.recv(pctx, ch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// awaitReply reads the channel until the reply to msgID arrives or
// replyPolls intervals pass.
func (c *Client) awaitReply(ctx context.Context, ch Channel, msgID string) (*Message, error) {
	for i := 0; i < replyPolls; i++ {
		msg, err := c.poll(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("failed waiting for reply: %w", err)
		}
		if msg != nil && msg.ParentID() == msgID {
			return msg, nil
		}
	}
	return nil, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "knitron"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
