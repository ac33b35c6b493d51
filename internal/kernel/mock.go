package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport implements Transport as a scripted fake kernel.
// Requests sent on the shell channel are decoded and answered the way an
// IPython kernel would: a busy status, the outputs, an idle status and a
// shell reply. It is exported for use by tests in other packages.
type MockTransport struct {
	mu sync.Mutex

	signer *Signer
	queues map[Channel]chan [][]byte
	closed bool

	// Kernel behaviour
	executeFunc   func(code string) MockExecution
	handler       Handler
	heartbeatDead bool
	sendErr       error

	// Tracking
	requests       []*Message
	executedCode   []string
	heartbeatCalls int
}

// MockExecution describes the outputs of one fake execute_request.
type MockExecution struct {
	Stdout  string
	Stderr  string
	Result  string
	Display []MimeBundle
	Error   *ErrorContent

	// Stray messages are published before the reply with a foreign parent.
	Stray []*Message
}

// Handler answers a shell request with an optional shell reply and the
// messages to publish on IOPub, in order.
type Handler func(req *Message) (reply *Message, iopub []*Message)

// NewMockTransport creates a fake kernel that verifies and signs messages with
// the given key.
func NewMockTransport(key string) *MockTransport {
	signer, _ := NewSigner(DefaultSignatureScheme, key)
	m := &MockTransport{
		signer: signer,
		queues: make(map[Channel]chan [][]byte),
	}
	for _, ch := range []Channel{ChannelShell, ChannelControl, ChannelIOPub, ChannelHeartbeat} {
		m.queues[ch] = make(chan [][]byte, inboxSize)
	}
	return m
}

// Send handles a request from the client.
func (m *MockTransport) Send(ctx context.Context, ch Channel, frames [][]byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}

	if ch == ChannelHeartbeat {
		m.heartbeatCalls++
		dead := m.heartbeatDead
		m.mu.Unlock()
		if !dead {
			m.queues[ChannelHeartbeat] <- frames
		}
		return nil
	}

	req, err := Decode(frames, m.signer)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("mock kernel rejected message: %w", err)
	}
	m.requests = append(m.requests, req)
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		handler = m.defaultHandler
	}
	reply, iopub := handler(req)

	for _, msg := range iopub {
		if err := m.push(ChannelIOPub, msg); err != nil {
			return err
		}
	}
	if reply != nil {
		return m.push(ch, reply)
	}
	return nil
}

// Recv returns the next queued message for the channel.
func (m *MockTransport) Recv(ctx context.Context, ch Channel) ([][]byte, error) {
	m.mu.Lock()
	q, ok := m.queues[ch]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", ch)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frames := <-q:
		return frames, nil
	}
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Publish queues a message on IOPub as if the kernel broadcast it.
func (m *MockTransport) Publish(msg *Message) error {
	return m.push(ChannelIOPub, msg)
}

func (m *MockTransport) push(ch Channel, msg *Message) error {
	frames, err := Encode(msg, m.signer)
	if err != nil {
		return err
	}
	m.queues[ch] <- frames
	return nil
}

func (m *MockTransport) defaultHandler(req *Message) (*Message, []*Message) {
	switch req.Type() {
	case MessageTypeKernelInfoRequest:
		reply := ReplyTo(req, MessageTypeKernelInfoReply, map[string]any{
			"status":           "ok",
			"protocol_version": ProtocolVersion,
			"implementation":   "mock",
			"language_info":    map[string]any{"name": "python"},
		})
		return reply, []*Message{
			ReplyTo(req, MessageTypeStatus, StatusContent{ExecutionState: StateBusy}),
			ReplyTo(req, MessageTypeStatus, StatusContent{ExecutionState: StateIdle}),
		}

	case MessageTypeExecuteRequest:
		var content ExecuteRequest
		_ = json.Unmarshal(req.Content, &content)

		m.mu.Lock()
		m.executedCode = append(m.executedCode, content.Code)
		count := len(m.executedCode)
		fn := m.executeFunc
		m.mu.Unlock()

		var exec MockExecution
		if fn != nil {
			exec = fn(content.Code)
		}
		return m.executeMessages(req, content.Code, count, exec)

	default:
		return nil, nil
	}
}

func (m *MockTransport) executeMessages(req *Message, code string, count int, exec MockExecution) (*Message, []*Message) {
	iopub := []*Message{
		ReplyTo(req, MessageTypeStatus, StatusContent{ExecutionState: StateBusy}),
		ReplyTo(req, MessageTypeExecuteInput, map[string]any{"code": code, "execution_count": count}),
	}
	iopub = append(iopub, exec.Stray...)

	if exec.Stdout != "" {
		iopub = append(iopub, ReplyTo(req, MessageTypeStream, StreamContent{Name: "stdout", Text: exec.Stdout}))
	}
	if exec.Stderr != "" {
		iopub = append(iopub, ReplyTo(req, MessageTypeStream, StreamContent{Name: "stderr", Text: exec.Stderr}))
	}
	for _, bundle := range exec.Display {
		iopub = append(iopub, ReplyTo(req, MessageTypeDisplayData, DisplayDataContent{Data: bundle, Metadata: map[string]any{}}))
	}
	if exec.Result != "" {
		iopub = append(iopub, ReplyTo(req, MessageTypeExecuteResult, ExecuteResultContent{
			ExecutionCount: count,
			Data:           MimeBundle{"text/plain": exec.Result},
			Metadata:       map[string]any{},
		}))
	}

	reply := ExecuteReply{Status: "ok", ExecutionCount: count}
	if exec.Error != nil {
		iopub = append(iopub, ReplyTo(req, MessageTypeError, exec.Error))
		reply = ExecuteReply{
			Status:         "error",
			ExecutionCount: count,
			EName:          exec.Error.EName,
			EValue:         exec.Error.EValue,
			Traceback:      exec.Error.Traceback,
		}
	}

	iopub = append(iopub, ReplyTo(req, MessageTypeStatus, StatusContent{ExecutionState: StateIdle}))
	return ReplyTo(req, MessageTypeExecuteReply, reply), iopub
}

// ReplyTo builds a kernel-side message whose parent is req.
func ReplyTo(req *Message, msgType MessageType, content any) *Message {
	return MustNewMessage(msgType, req.Header.Session, "kernel", &req.Header, content)
}

// SetExecuteFunc sets the function deciding the outputs of each execution.
func (m *MockTransport) SetExecuteFunc(fn func(code string) MockExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeFunc = fn
}

// SetHandler replaces the built-in kernel behaviour entirely.
func (m *MockTransport) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetHeartbeatDead makes the fake kernel stop answering heartbeats.
func (m *MockTransport) SetHeartbeatDead(dead bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatDead = dead
}

// SetSendError makes every Send fail with err.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// GetRequests returns a copy of the decoded shell requests.
func (m *MockTransport) GetRequests() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*Message, len(m.requests))
	copy(result, m.requests)
	return result
}

// GetExecutedCode returns the code of each execute_request, in order.
func (m *MockTransport) GetExecutedCode() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.executedCode))
	copy(result, m.executedCode)
	return result
}

// GetHeartbeatCalls returns the number of heartbeat pings received.
func (m *MockTransport) GetHeartbeatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeatCalls
}

// IsClosed reports whether Close was called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Verify MockTransport implements Transport interface.
var _ Transport = (*MockTransport)(nil)
