package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/rxchain/pkg/merkle"
)

// Status is the outcome of a transaction
type Status string

const (
	StatusSuccess  Status = "success"
	StatusReverted Status = "reverted"
)

// eventNamespace seeds deterministic event identifiers
var eventNamespace = uuid.MustParse("6f1c0f8e-5a0b-4c43-9a3e-2b7d1d8e4c21")

// Event is a notification emitted by a contract during a committed transaction
type Event struct {
	ID       uuid.UUID       `json:"id"`
	Contract Address         `json:"contract"`
	Label    string          `json:"contract_label,omitempty"`
	Type     string          `json:"type"`
	Index    int             `json:"log_index"`
	Data     json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Receipt records one executed transaction
type Receipt struct {
	Index     uint64      `json:"index"`
	Hash      merkle.Hash `json:"hash"`
	From      Address     `json:"from"`
	To        Address     `json:"to"`
	Value     uint64      `json:"value"`
	Status    Status      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Events    []Event     `json:"events"`
	Timestamp time.Time   `json:"timestamp"`
}

// Succeeded reports whether the transaction committed
func (r *Receipt) Succeeded() bool { return r.Status == StatusSuccess }

// EventsOfType filters events by type
func (r *Receipt) EventsOfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ReceiptSink receives receipts in ledger order after the ledger lock is released.
// Sinks run while later transactions wait to publish and must not call back
// into the Ledger.
type ReceiptSink interface {
	HandleReceipt(ctx context.Context, r *Receipt) error
}

// SinkFunc adapts a function to ReceiptSink
type SinkFunc func(ctx context.Context, r *Receipt) error

func (f SinkFunc) HandleReceipt(ctx context.Context, r *Receipt) error { return f(ctx, r) }

func txHash(index, nonce uint64, msg Msg) merkle.Hash {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], index)
	binary.BigEndian.PutUint64(buf[8:16], nonce)
	binary.BigEndian.PutUint64(buf[16:24], msg.Value)
	return merkle.Keccak256(msg.From[:], msg.To[:], buf[:])
}

func eventID(hash merkle.Hash, index int) uuid.UUID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(index))
	return uuid.NewSHA1(eventNamespace, append(hash[:], buf[:]...))
}
