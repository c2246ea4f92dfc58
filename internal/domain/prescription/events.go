package prescription

import "github.com/drfirst/rxchain/internal/ledger"

// EventType represents the type of prescription event
type EventType string

const (
	EventTokenMinted                EventType = "TokenMinted"
	EventTokenTransferredToPharmacy EventType = "TokenTransferredToPharmacy"
	EventPrescriptionBurned         EventType = "PrescriptionBurned"
	EventBaseURISet                 EventType = "BaseURISet"
)

// TokenMintedData is emitted when a doctor issues a prescription
type TokenMintedData struct {
	TokenID uint64         `json:"token_id"`
	To      ledger.Address `json:"to"`
	Doctor  ledger.Address `json:"doctor"`
	URI     string         `json:"uri"`
}

// TokenTransferredToPharmacyData is emitted when a patient hands a prescription to a pharmacy
type TokenTransferredToPharmacyData struct {
	TokenID uint64         `json:"token_id"`
	From    ledger.Address `json:"from"`
	To      ledger.Address `json:"to"`
}

// PrescriptionBurnedData is emitted when the owner destroys a prescription
type PrescriptionBurnedData struct {
	TokenID uint64         `json:"token_id"`
	Owner   ledger.Address `json:"owner"`
}

// BaseURISetData is emitted when the URI prefix changes
type BaseURISetData struct {
	URI string `json:"uri"`
}
