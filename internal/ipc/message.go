// Package ipc defines the JSON message union exchanged between a supervisor
// process and a forked worker process over the worker's stdin/stdout, and the
// framed codec used to read and write it.
//
// The wire format is one JSON value per line (newline-delimited), grounded on
// the teacher's "one json.Encoder.Encode call per message" idiom in
// internal/protocol/codec.go, generalized from a request/response pair to a
// four-message tagged union that persists for the worker's whole lifetime
// rather than once per command.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType enumerates the legal values of Message.Type. Any other value
// is rejected by both Encode and Decode.
type MessageType string

const (
	// Start is sent parent -> child to bootstrap the worker with its config.
	Start MessageType = "start"
	// Shutdown is sent parent -> child to begin graceful termination.
	Shutdown MessageType = "shutdown"
	// Ready is sent child -> parent once the worker is serving.
	Ready MessageType = "ready"
	// ErrorMsg is sent child -> parent on fatal bootstrap or uncaught error.
	ErrorMsg MessageType = "error"
)

func validType(t MessageType) bool {
	switch t {
	case Start, Shutdown, Ready, ErrorMsg:
		return true
	default:
		return false
	}
}

// Message is the tagged union exchanged over the IPC channel. Only the
// fields relevant to Type are populated; the rest are left zero.
type Message struct {
	Type MessageType `json:"type"`

	// Config carries the worker's bootstrap configuration on a Start message.
	Config json.RawMessage `json:"config,omitempty"`

	// URL and Port describe the bound listener on a Ready message.
	URL  string `json:"url,omitempty"`
	Port int    `json:"port,omitempty"`

	// Error carries a human-readable failure description on an ErrorMsg message.
	Error string `json:"error,omitempty"`
}

// Encoder writes framed Messages to an underlying writer.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an Encoder that writes newline-delimited JSON to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode validates msg.Type and writes it as one JSON line.
func (e *Encoder) Encode(msg Message) error {
	if !validType(msg.Type) {
		return fmt.Errorf("ipc: %w: %q", ErrUnknownMessageType, msg.Type)
	}
	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("ipc: encode message: %w", err)
	}
	return nil
}

// Decoder reads framed Messages from an underlying reader, one per line.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder that reads newline-delimited JSON from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Decoder{scanner: scanner}
}

// ErrUnknownMessageType is returned when a decoded or about-to-be-encoded
// message carries a Type outside the known union.
var ErrUnknownMessageType = fmt.Errorf("unknown ipc message type")

// ErrEOF is returned by Decode when the underlying stream is exhausted
// without producing another message.
var ErrEOF = io.EOF

// Decode reads the next line and unmarshals it into a Message, rejecting
// unknown Type values. Returns ErrEOF when the stream ends cleanly.
func (d *Decoder) Decode() (Message, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Message{}, fmt.Errorf("ipc: read message: %w", err)
		}
		return Message{}, ErrEOF
	}

	var msg Message
	if err := json.Unmarshal(d.scanner.Bytes(), &msg); err != nil {
		return Message{}, fmt.Errorf("ipc: decode message: %w", err)
	}
	if !validType(msg.Type) {
		return Message{}, fmt.Errorf("ipc: %w: %q", ErrUnknownMessageType, msg.Type)
	}
	return msg, nil
}
