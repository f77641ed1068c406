// Package protocol defines the JSON messages exchanged with the dev server.
package protocol

import (
	"encoding/json"
	"fmt"

	"hotsync/internal/issues"
	"hotsync/internal/resource"
	"hotsync/internal/update"
)

// ServerMessageType tags messages received from the server.
type ServerMessageType string

const (
	// TypeIssues only refreshes the issue list for a resource.
	TypeIssues ServerMessageType = "issues"
	// TypePartial carries an instruction to aggregate until the next flush.
	TypePartial ServerMessageType = "partial"
	// TypeNotFound is terminal: the server dropped the resource's stream.
	TypeNotFound ServerMessageType = "notFound"
	// TypeRestart asks subscribers to reload from scratch.
	TypeRestart ServerMessageType = "restart"
	// TypeTotal replaces the resource's content outright.
	TypeTotal ServerMessageType = "total"
)

// ServerMessage is one message received from the server. Types other than
// issues and partial are applied to subscribers immediately.
type ServerMessage struct {
	Type        ServerMessageType       `json:"type"`
	Resource    resource.Resource       `json:"resource"`
	Issues      []issues.Issue          `json:"issues,omitempty"`
	Instruction *update.ChunkListUpdate `json:"instruction,omitempty"`
}

// Decode parses a server message.
func Decode(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	if msg.Type == "" {
		return ServerMessage{}, fmt.Errorf("decode server message: missing type")
	}
	return msg, nil
}

// ClientMessageType tags messages sent to the server.
type ClientMessageType string

const (
	TypeSubscribe   ClientMessageType = "subscribe"
	TypeUnsubscribe ClientMessageType = "unsubscribe"
)

// ClientMessage is sent upstream. Headers encodes as null when absent.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

// Subscribe builds the subscribe message for res.
func Subscribe(res resource.Resource) ClientMessage {
	return ClientMessage{Type: TypeSubscribe, Path: res.Path, Headers: res.Headers}
}

// Unsubscribe builds the unsubscribe message for res.
func Unsubscribe(res resource.Resource) ClientMessage {
	return ClientMessage{Type: TypeUnsubscribe, Path: res.Path, Headers: res.Headers}
}
