package kernel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the messaging protocol version sent in headers.
const ProtocolVersion = "5.3"

// MessageType identifies the type of a kernel message.
type MessageType string

const (
	// Shell requests and replies

	MessageTypeExecuteRequest    MessageType = "execute_request"
	MessageTypeExecuteReply      MessageType = "execute_reply"
	MessageTypeKernelInfoRequest MessageType = "kernel_info_request"
	MessageTypeKernelInfoReply   MessageType = "kernel_info_reply"

	// IOPub broadcasts

	MessageTypeStatus        MessageType = "status"
	MessageTypeStream        MessageType = "stream"
	MessageTypeExecuteInput  MessageType = "execute_input"
	MessageTypeExecuteResult MessageType = "execute_result"
	MessageTypeError         MessageType = "error"
	MessageTypeDisplayData   MessageType = "display_data"
	MessageTypeUpdateDisplay MessageType = "update_display_data"
	MessageTypeClearOutput   MessageType = "clear_output"
)

// legacyTypes maps IPython 1.x/2.x message names to their current names.
var legacyTypes = map[MessageType]MessageType{
	"pyout": MessageTypeExecuteResult,
	"pyerr": MessageTypeError,
	"pyin":  MessageTypeExecuteInput,
}

// Normalize returns the current name of a possibly legacy message type.
func (t MessageType) Normalize() MessageType {
	if current, ok := legacyTypes[t]; ok {
		return current
	}
	return t
}

// ExecutionState is the value of a status message.
type ExecutionState string

const (
	StateBusy     ExecutionState = "busy"
	StateIdle     ExecutionState = "idle"
	StateStarting ExecutionState = "starting"
)

// Header is a message header. The parent header of a reply or broadcast is a
// copy of the request's header.
type Header struct {
	MsgID    string      `json:"msg_id"`
	Session  string      `json:"session"`
	Username string      `json:"username"`
	Date     string      `json:"date"`
	MsgType  MessageType `json:"msg_type"`
	Version  string      `json:"version"`
}

// Message is a decoded kernel message.
type Message struct {
	// Identities are the routing prefixes before the delimiter frame.
	Identities [][]byte

	Header       Header
	ParentHeader Header
	Metadata     map[string]any

	// Content contains the type-specific payload.
	// Use the typed accessor methods to get the concrete type.
	Content json.RawMessage

	Buffers [][]byte
}

// NewMessage creates a message with a fresh header. parent may be nil.
func NewMessage(msgType MessageType, session, username string, parent *Header, content any) (*Message, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s content: %w", msgType, err)
	}

	msg := &Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			Session:  session,
			Username: username,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  msgType,
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  data,
	}
	if parent != nil {
		msg.ParentHeader = *parent
	}
	return msg, nil
}

// MustNewMessage creates a message, panicking on error.
// Use only when the content is known to be serializable.
func MustNewMessage(msgType MessageType, session, username string, parent *Header, content any) *Message {
	msg, err := NewMessage(msgType, session, username, parent, content)
	if err != nil {
		panic(err)
	}
	return msg
}

// Type returns the normalized message type.
func (m *Message) Type() MessageType {
	return m.Header.MsgType.Normalize()
}

// ParentID returns the msg_id of the request this message answers.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// ExecuteRequest is the content of an execute_request.
type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// ExecuteReply is the content of an execute_reply.
type ExecuteReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	EName          string   `json:"ename,omitempty"`
	EValue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// KernelInfoReply is the content of a kernel_info_reply.
type KernelInfoReply struct {
	Status                string `json:"status"`
	ProtocolVersion       string `json:"protocol_version"`
	Implementation        string `json:"implementation"`
	ImplementationVersion string `json:"implementation_version"`
	LanguageInfo          struct {
		Name          string `json:"name"`
		Version       string `json:"version"`
		FileExtension string `json:"file_extension"`
	} `json:"language_info"`
	Banner string `json:"banner"`
}

// StatusContent is the content of a status broadcast.
type StatusContent struct {
	ExecutionState ExecutionState `json:"execution_state"`
}

// StreamContent is the content of a stream broadcast.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`

	// Data carries the text in protocol versions before 5.0.
	Data string `json:"data,omitempty"`
}

// String returns the stream text regardless of protocol version.
func (s *StreamContent) String() string {
	if s.Text != "" {
		return s.Text
	}
	return s.Data
}

// MimeBundle maps mime types to representations.
type MimeBundle map[string]any

// PlainText returns the text/plain representation, if present.
func (b MimeBundle) PlainText() (string, bool) {
	v, ok := b["text/plain"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// ExecuteResultContent is the content of an execute_result broadcast.
type ExecuteResultContent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           MimeBundle     `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

// DisplayDataContent is the content of a display_data broadcast.
type DisplayDataContent struct {
	Data     MimeBundle     `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// ErrorContent is the content of an error broadcast.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// StatusData returns the status content if this is a status message.
func (m *Message) StatusData() (*StatusContent, error) {
	var c StatusContent
	return &c, m.decode(MessageTypeStatus, &c)
}

// StreamData returns the stream content if this is a stream message.
func (m *Message) StreamData() (*StreamContent, error) {
	var c StreamContent
	return &c, m.decode(MessageTypeStream, &c)
}

// ResultData returns the result content if this is an execute_result.
func (m *Message) ResultData() (*ExecuteResultContent, error) {
	var c ExecuteResultContent
	return &c, m.decode(MessageTypeExecuteResult, &c)
}

// DisplayData returns the display content if this is a display_data message.
func (m *Message) DisplayData() (*DisplayDataContent, error) {
	var c DisplayDataContent
	return &c, m.decode(MessageTypeDisplayData, &c)
}

// ErrorData returns the error content if this is an error message.
func (m *Message) ErrorData() (*ErrorContent, error) {
	var c ErrorContent
	return &c, m.decode(MessageTypeError, &c)
}

// ExecuteReplyData returns the reply content if this is an execute_reply.
func (m *Message) ExecuteReplyData() (*ExecuteReply, error) {
	var c ExecuteReply
	return &c, m.decode(MessageTypeExecuteReply, &c)
}

// KernelInfoData returns the reply content if this is a kernel_info_reply.
func (m *Message) KernelInfoData() (*KernelInfoReply, error) {
	var c KernelInfoReply
	return &c, m.decode(MessageTypeKernelInfoReply, &c)
}

// IsIdle reports whether this is a status message with execution_state idle.
func (m *Message) IsIdle() bool {
	if m.Type() != MessageTypeStatus {
		return false
	}
	st, err := m.StatusData()
	return err == nil && st.ExecutionState == StateIdle
}

func (m *Message) decode(want MessageType, v any) error {
	if got := m.Type(); got != want {
		return fmt.Errorf("message is not %s: %s", want, got)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s content: %w", want, err)
	}
	return nil
}
