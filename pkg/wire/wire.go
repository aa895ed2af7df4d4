// Package wire defines the five mandatory message tags of the collage
// commit protocol and their JSON encoding on the transport.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/mnohosten/collage-2pc/pkg/txn"
)

// Tag is one of the five wire message tags.
type Tag string

const (
	Prepare Tag = "PREPARE"
	Vote    Tag = "VOTE"
	Commit  Tag = "COMMIT"
	Abort   Tag = "ABORT"
	Ack     Tag = "ACK"
)

// Message is the single tagged variant carried over the transport. Only the
// fields relevant to Tag are populated; the rest are left zero.
//
//   PREPARE (C -> P): TxnID, ImageBytes, Filenames
//   VOTE    (P -> C): TxnID, Vote, From
//   COMMIT  (C -> P): TxnID
//   ABORT   (C -> P): TxnID
//   ACK     (P -> C): TxnID, From
type Message struct {
	Tag         Tag       `json:"tag"`
	TxnID       txn.ID    `json:"txn_id"`
	From        txn.Address `json:"from,omitempty"`
	ImageBytes  []byte    `json:"image_bytes,omitempty"`
	Filenames   []string  `json:"filenames,omitempty"`
	Vote        bool      `json:"vote,omitempty"`
}

// Encode serializes a Message for the transport.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode message: %w", err)
	}
	return data, nil
}

// Decode parses a transport frame into a Message. An unrecognized tag is
// reported as an error so callers can log-and-drop per the protocol's error
// handling policy; it is not itself a protocol violation.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode message: %w", err)
	}
	switch m.Tag {
	case Prepare, Vote, Commit, Abort, Ack:
		return m, nil
	default:
		return Message{}, fmt.Errorf("wire: unknown message tag %q", m.Tag)
	}
}
