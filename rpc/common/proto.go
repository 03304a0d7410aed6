package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCall/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key      string `json:"key,omitempty"`      // Used for: every keyed operation
	TTL      int64  `json:"ttl,omitempty"`      // Used for: SetE, SetEIfUnset, CompareAndSwap (nanoseconds, 0 = no expiry)
	Expected []byte `json:"expected,omitempty"` // Used for: CompareAndSwap
	Value    []byte `json:"value,omitempty"`    // Used for: Set* and CompareAndSwap (request), Get (response)

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // Used for: Get, Has, SetEIfUnset, CompareAndSwap responses
	Code uint8  `json:"code,omitempty"` // store.RetCode of Err
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info (response, json encoded db.DatabaseInfo)
}

// Failure returns the error carried by a response, nil if there is none.
// The store error code survives the round trip.
func (m *Message) Failure() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	code := store.RetCode(m.Code)
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// setErr stores err and its store code in the message
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Err = err.Error()
	var se *store.Error
	switch {
	case errors.As(err, &se):
		m.Code = uint8(se.Code)
		m.Err = se.Msg
		if m.Err == "" {
			m.Err = se.Code.String()
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.Code = uint8(store.RetCUnavailable)
	default:
		m.Code = uint8(store.RetCInternalError)
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTKVSet, Key: key, Value: value}
}

// NewSetERequest creates a new SetE request
func NewSetERequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVSetE, Key: key, Value: value, TTL: int64(ttl)}
}

// NewSetEIfUnsetRequest creates a new SetEIfUnset request
func NewSetEIfUnsetRequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVSetEIfUnset, Key: key, Value: value, TTL: int64(ttl)}
}

// NewCompareAndSwapRequest creates a new CompareAndSwap request
func NewCompareAndSwapRequest(key string, expected, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVCompareAndSwap, Key: key, Expected: expected, Value: value, TTL: int64(ttl)}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTKVDelete, Key: key}
}

// NewFlushRequest creates a new Flush request
func NewFlushRequest() *Message {
	return &Message{MsgType: MsgTKVFlush}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTKVGet, Key: key}
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{MsgType: MsgTKVHas, Key: key}
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTKVInfo}
}

// NewResponse creates a response of the given type carrying err
func NewResponse(t MessageType, err error) *Message {
	return (&Message{MsgType: t}).setErr(err)
}

// NewOkResponse creates a response of the given type carrying a boolean result
func NewOkResponse(t MessageType, ok bool, err error) *Message {
	return (&Message{MsgType: t, Ok: ok}).setErr(err)
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	return (&Message{MsgType: MsgTKVGet, Value: value, Ok: ok}).setErr(err)
}

// NewInfoResponse creates a new Info response
func NewInfoResponse(info any, err error) *Message {
	msg := &Message{MsgType: MsgTKVInfo}
	if err != nil {
		return msg.setErr(err)
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return msg.setErr(fmt.Errorf("encode info: %w", err))
	}
	msg.Meta = meta
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code store.RetCode, err string) *Message {
	return &Message{MsgType: MsgTError, Code: uint8(code), Err: err}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:          "success",
	MsgTError:            "error",
	MsgTKVSet:            "set",
	MsgTKVSetE:           "setE",
	MsgTKVSetEIfUnset:    "setEIfUnset",
	MsgTKVCompareAndSwap: "compareAndSwap",
	MsgTKVDelete:         "delete",
	MsgTKVFlush:          "flush",
	MsgTKVGet:            "get",
	MsgTKVHas:            "has",
	MsgTKVInfo:           "info",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, v := range messageTypeNames {
		if v == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVSet            // Set a key-value pair
	MsgTKVSetE           // Set a key-value pair with expiration
	MsgTKVSetEIfUnset    // Set a key-value pair if not already set
	MsgTKVCompareAndSwap // Replace a value if it matches the expected one
	MsgTKVDelete         // Delete a key-value pair
	MsgTKVFlush          // Delete all key-value pairs
	MsgTKVGet            // Get a value by key
	MsgTKVHas            // Check if a key exists
	MsgTKVInfo           // Get database information
)

// MaxMessageType is the highest defined message type
const MaxMessageType = MsgTKVInfo
