package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// NewMessage builds a shell-channel message with a fresh header.
func NewMessage(msgID, msgType, username, session string, content any) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s content: %w", msgType, err)
	}
	return &Message{
		Header: Header{
			MsgID:    msgID,
			MsgType:  msgType,
			Username: username,
			Session:  session,
			Version:  Version,
			Date:     timestamp(time.Now()),
		},
		Metadata: map[string]any{},
		Content:  raw,
		Buffers:  []any{},
		Channel:  ChannelShell,
	}, nil
}

// NewExecuteRequest builds an execute_request for code.
func NewExecuteRequest(msgID, username, session, code string) (*Message, error) {
	return NewMessage(msgID, TypeExecuteRequest, username, session, ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
}

// Encode serializes msg as JSON to w.
func Encode(w io.Writer, msg *Message) error {
	if err := validateOutgoing(msg); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(msg *Message) ([]byte, error) {
	if err := validateOutgoing(msg); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

func validateOutgoing(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.Header.MsgID == "" {
		return fmt.Errorf("message missing required field: header.msg_id")
	}
	if msg.Header.MsgType == "" {
		return fmt.Errorf("message missing required field: header.msg_type")
	}
	return nil
}

// Decode reads one message from r. Unknown fields are accepted since
// gateways add their own.
func Decode(r io.Reader) (*Message, error) {
	var msg Message
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := validateIncoming(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Unmarshal is Decode from a byte slice.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("message is not valid JSON: %w", err)
	}
	if err := validateIncoming(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func validateIncoming(msg *Message) error {
	if msg.Type() == "" {
		return fmt.Errorf("message missing required field: msg_type")
	}
	return nil
}

// DecodeContent unmarshals the message content into v.
func (m *Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%s message has no content", m.Type())
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("failed to decode %s content: %w", m.Type(), err)
	}
	return nil
}
