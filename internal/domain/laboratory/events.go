package laboratory

import "github.com/drfirst/rxchain/internal/ledger"

// EventType represents the type of laboratory event
type EventType string

const (
	EventMedicationDataUpdated      EventType = "MedicationDataUpdated"
	EventMedicationListUpdated      EventType = "MedicationListUpdated"
	EventMedicationMinted           EventType = "MedicationMinted"
	EventTransferSingle             EventType = "TransferSingle"
	EventTransferBatch              EventType = "TransferBatch"
	EventApprovalForAll             EventType = "ApprovalForAll"
	EventPharmacyContractAddressSet EventType = "PharmacyContractAddressSet"
	EventBaseURISet                 EventType = "BaseURISet"
)

// MedicationDataUpdatedData carries one catalog entry after an upsert
type MedicationDataUpdatedData struct {
	Medication
}

// MedicationListUpdatedData lists the ids touched by a batch upsert
type MedicationListUpdatedData struct {
	IDs []uint64 `json:"ids"`
}

// MedicationMintedData is emitted when a pharmacy buys inventory
type MedicationMintedData struct {
	TotalPrice uint64         `json:"total_price"`
	Caller     ledger.Address `json:"caller"`
}

// TransferSingleData mirrors the ERC-1155 single transfer notification
type TransferSingleData struct {
	Operator ledger.Address `json:"operator"`
	From     ledger.Address `json:"from"`
	To       ledger.Address `json:"to"`
	ID       uint64         `json:"id"`
	Value    uint64         `json:"value"`
}

// TransferBatchData mirrors the ERC-1155 batch transfer notification
type TransferBatchData struct {
	Operator ledger.Address `json:"operator"`
	From     ledger.Address `json:"from"`
	To       ledger.Address `json:"to"`
	IDs      []uint64       `json:"ids"`
	Values   []uint64       `json:"values"`
}

// ApprovalForAllData is emitted when an owner grants or revokes an operator
type ApprovalForAllData struct {
	Owner    ledger.Address `json:"owner"`
	Operator ledger.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

// PharmacyContractAddressSetData is emitted when the pharmacy whitelist source changes
type PharmacyContractAddressSetData struct {
	Address ledger.Address `json:"address"`
}

// BaseURISetData is emitted when the URI prefix changes
type BaseURISetData struct {
	URI string `json:"uri"`
}
