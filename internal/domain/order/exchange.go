// Package order implements the pharmacy to patient order escrow.
//
// An order is prepared by a pharmacy, made ready by a pharmacy and paid
// exactly once by its patient. Payment moves the reserved inventory from the
// pharmacy to the patient through the laboratory and forwards the attached
// value to the pharmacy in the same transaction.
package order

import (
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

// Inventory is the part of the laboratory the exchange moves balances through
type Inventory interface {
	Address() ledger.Address
	SafeBatchTransferFrom(tx *ledger.Tx, from, to ledger.Address, ids, values []uint64) error
}

// Whitelists are the role checks the exchange gates on
type Whitelists struct {
	Pharmacies roles.Checker
	Patients   roles.Checker
}

// Order is one pharmacy prepared sale
type Order struct {
	ID          uint64         `json:"order_id"`
	Pharmacy    ledger.Address `json:"pharmacy"`
	Patient     ledger.Address `json:"patient"`
	MedicineIDs []uint64       `json:"medicine_ids"`
	Quantities  []uint64       `json:"quantities"`
	TotalPrice  uint64         `json:"total_price"`
	IsReady     bool           `json:"is_ready"`
	IsPaid      bool           `json:"is_paid"`
}

// Exchange is the escrow contract
type Exchange struct {
	address ledger.Address
	lab     Inventory
	lists   Whitelists
	counter uint64
	orders  map[uint64]*Order
	guard   ledger.ReentrancyGuard
}

// NewExchange creates an exchange deployed at address
func NewExchange(address ledger.Address, lab Inventory, lists Whitelists) *Exchange {
	return &Exchange{
		address: address,
		lab:     lab,
		lists:   lists,
		orders:  make(map[uint64]*Order),
	}
}

// Address returns the exchange contract address
func (e *Exchange) Address() ledger.Address { return e.address }

// LaboratoryAddress returns the inventory contract the exchange settles through
func (e *Exchange) LaboratoryAddress() ledger.Address { return e.lab.Address() }

// OrderIDCounter returns the id of the last prepared order, 0 when none exists
func (e *Exchange) OrderIDCounter() uint64 { return e.counter }

// PrepareOrder records an order at the caller supplied price
func (e *Exchange) PrepareOrder(tx *ledger.Tx, pharmacy, patient ledger.Address, medicineIDs, quantities []uint64, totalPrice uint64, pharmacyProof []merkle.Hash) (uint64, error) {
	caller := tx.Sender()
	if !e.lists.Pharmacies.IsMember(caller, pharmacyProof) {
		return 0, ErrOnlyPharmaciesPrepare
	}
	if caller != pharmacy {
		return 0, ErrPharmacyNotCaller
	}
	if len(medicineIDs) != len(quantities) {
		return 0, ErrArrayLengthMismatch
	}

	e.counter++
	id := e.counter
	o := &Order{
		ID:          id,
		Pharmacy:    pharmacy,
		Patient:     patient,
		MedicineIDs: append([]uint64(nil), medicineIDs...),
		Quantities:  append([]uint64(nil), quantities...),
		TotalPrice:  totalPrice,
	}
	e.orders[id] = o
	tx.OnRevert(func() {
		delete(e.orders, id)
		e.counter--
	})

	tx.Emit(string(EventOrderPrepared), &OrderPreparedData{
		OrderID:     id,
		Pharmacy:    pharmacy,
		Patient:     patient,
		MedicineIDs: o.MedicineIDs,
		Quantities:  o.Quantities,
		TotalPrice:  totalPrice,
	})
	return id, nil
}

// MakeOrderReady flags an order as ready for payment. Calling it again is allowed.
func (e *Exchange) MakeOrderReady(tx *ledger.Tx, orderID uint64, pharmacyProof []merkle.Hash) error {
	caller := tx.Sender()
	if !e.lists.Pharmacies.IsMember(caller, pharmacyProof) {
		return ErrOnlyPharmaciesReady
	}
	o, err := e.get(orderID)
	if err != nil {
		return err
	}

	prev := o.IsReady
	o.IsReady = true
	tx.OnRevert(func() { o.IsReady = prev })

	tx.Emit(string(EventOrderReady), &OrderReadyData{OrderID: orderID, Pharmacy: caller})
	return nil
}

// IsOrderReady returns the ready flag of an existing order
func (e *Exchange) IsOrderReady(orderID uint64) (bool, error) {
	o, err := e.get(orderID)
	if err != nil {
		return false, err
	}
	return o.IsReady, nil
}

// GetOrderPrice returns the fixed total of an order to its patient
func (e *Exchange) GetOrderPrice(tx *ledger.Tx, orderID uint64, patientProof []merkle.Hash) (uint64, error) {
	o, err := e.patientOrder(tx, orderID, patientProof)
	if err != nil {
		return 0, err
	}
	return o.TotalPrice, nil
}

// PayOrder settles a ready order. The attached value must equal the total
// exactly; the exchange must be an approved operator of the pharmacy on the
// laboratory, and the pharmacy must hold the reserved units.
func (e *Exchange) PayOrder(tx *ledger.Tx, orderID uint64, patientProof []merkle.Hash) error {
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	o, err := e.patientOrder(tx, orderID, patientProof)
	if err != nil {
		return err
	}
	if !o.IsReady {
		return ErrOrderNotReady
	}
	if o.IsPaid {
		return ErrOrderAlreadyPaid
	}
	if tx.Value() != o.TotalPrice {
		return ErrWrongPayment
	}

	o.IsPaid = true
	tx.OnRevert(func() { o.IsPaid = false })

	err = tx.Call(e.lab.Address(), 0, func(call *ledger.Tx) error {
		return e.lab.SafeBatchTransferFrom(call, o.Pharmacy, o.Patient, o.MedicineIDs, o.Quantities)
	})
	if err != nil {
		return err
	}
	if err := tx.Transfer(o.Pharmacy, o.TotalPrice); err != nil {
		return err
	}

	tx.Emit(string(EventOrderPayed), &OrderPayedData{
		OrderID:  orderID,
		Patient:  o.Patient,
		Pharmacy: o.Pharmacy,
		Amount:   o.TotalPrice,
	})
	return nil
}

// Order returns a copy of a stored order
func (e *Exchange) Order(orderID uint64) (Order, error) {
	o, err := e.get(orderID)
	if err != nil {
		return Order{}, err
	}
	out := *o
	out.MedicineIDs = append([]uint64(nil), o.MedicineIDs...)
	out.Quantities = append([]uint64(nil), o.Quantities...)
	return out, nil
}

func (e *Exchange) patientOrder(tx *ledger.Tx, orderID uint64, patientProof []merkle.Hash) (*Order, error) {
	caller := tx.Sender()
	if !e.lists.Patients.IsMember(caller, patientProof) {
		return nil, ErrOnlyPatients
	}
	o, err := e.get(orderID)
	if err != nil {
		return nil, err
	}
	if o.Patient != caller {
		return nil, ErrNotYourOrder
	}
	return o, nil
}

func (e *Exchange) get(orderID uint64) (*Order, error) {
	o, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderDoesNotExist
	}
	return o, nil
}
