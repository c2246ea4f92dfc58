package roles

import (
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

// EventType represents the type of registry event
type EventType string

const (
	EventUpdatedMerkleRoot    EventType = "UpdatedMerkleRoot"
	EventOwnershipTransferred EventType = "OwnershipTransferred"
)

// UpdatedMerkleRootData is emitted when a whitelist commitment rotates
type UpdatedMerkleRootData struct {
	Role     Role        `json:"role"`
	Root     merkle.Hash `json:"root"`
	Previous merkle.Hash `json:"previous"`
}

// OwnershipTransferredData is emitted when the administrator changes
type OwnershipTransferredData struct {
	PreviousOwner ledger.Address `json:"previous_owner"`
	NewOwner      ledger.Address `json:"new_owner"`
}
