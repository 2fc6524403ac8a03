package protocol

import (
	"encoding/json"
	"time"
)

// Version is the Jupyter messaging protocol version sent in headers.
const Version = "5.4"

// Message types used by the execution client.
const (
	TypeExecuteRequest    = "execute_request"
	TypeExecuteReply      = "execute_reply"
	TypeExecuteResult     = "execute_result"
	TypeDisplayData       = "display_data"
	TypeStream            = "stream"
	TypeError             = "error"
	TypeStatus            = "status"
	TypeKernelInfoRequest = "kernel_info_request"
	TypeKernelInfoReply   = "kernel_info_reply"
)

// Channels.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
)

// Header identifies a message.
type Header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	Version  string `json:"version,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Message is the envelope exchanged over the kernel channels websocket.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Buffers      []any           `json:"buffers"`
	Channel      string          `json:"channel,omitempty"`

	// Some gateways repeat these at the top level.
	MsgType string `json:"msg_type,omitempty"`
	MsgID   string `json:"msg_id,omitempty"`
}

// Type returns the message type from the header or the top-level copy.
func (m *Message) Type() string {
	if m.Header.MsgType != "" {
		return m.Header.MsgType
	}
	return m.MsgType
}

// ParentID returns the msg_id this message replies to.
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

// Stream is the content of a stream message.
type Stream struct {
	Name string `json:"name"` // stdout | stderr
	Text string `json:"text"`
}

// DisplayData is the content of execute_result and display_data messages.
type DisplayData struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Error is the content of an error message.
type Error struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ExecuteReply is the content of an execute_reply.
type ExecuteReply struct {
	Status         string `json:"status"` // ok | error | aborted
	ExecutionCount int    `json:"execution_count,omitempty"`
}

// Status is the content of a status message.
type Status struct {
	ExecutionState string `json:"execution_state"` // busy | idle | starting
}

// timestamp formats t the way kernels expect in headers.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
