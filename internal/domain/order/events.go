package order

import "github.com/drfirst/rxchain/internal/ledger"

// EventType represents the type of order event
type EventType string

const (
	EventOrderPrepared EventType = "OrderPrepared"
	EventOrderReady    EventType = "OrderReady"
	EventOrderPayed    EventType = "OrderPayed"
)

// OrderPreparedData carries the full order as stored
type OrderPreparedData struct {
	OrderID     uint64         `json:"order_id"`
	Pharmacy    ledger.Address `json:"pharmacy"`
	Patient     ledger.Address `json:"patient"`
	MedicineIDs []uint64       `json:"medicine_ids"`
	Quantities  []uint64       `json:"quantities"`
	TotalPrice  uint64         `json:"total_price"`
}

// OrderReadyData is emitted every time a pharmacy marks an order ready
type OrderReadyData struct {
	OrderID  uint64         `json:"order_id"`
	Pharmacy ledger.Address `json:"pharmacy"`
}

// OrderPayedData is emitted once the patient has paid and received the inventory
type OrderPayedData struct {
	OrderID  uint64         `json:"order_id"`
	Patient  ledger.Address `json:"patient"`
	Pharmacy ledger.Address `json:"pharmacy"`
	Amount   uint64         `json:"amount"`
}
