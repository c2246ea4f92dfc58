package laboratory

import (
	"errors"
	"fmt"

	"github.com/drfirst/rxchain/internal/ledger"
)

var (
	ErrOnlyPharmaciesMint  = errors.New("only pharmacies are allowed to mint medications")
	ErrArrayLengthMismatch = errors.New("arrays should have the same lengths")
	ErrInsufficientPayment = errors.New("insufficient balance")
	ErrTooManyItems        = fmt.Errorf("too many items, at most %d per call", MaxItems)
	ErrEmptyName           = errors.New("medication name is required")
)

// MissingApprovalForAllError is returned when an operator moves balances it was never approved for
type MissingApprovalForAllError struct {
	Operator ledger.Address
	Owner    ledger.Address
}

func (e *MissingApprovalForAllError) Error() string {
	return fmt.Sprintf("erc1155: missing approval for all: operator %s, owner %s", e.Operator, e.Owner)
}

// InsufficientBalanceError is returned when a transfer exceeds the holder's balance
type InsufficientBalanceError struct {
	Sender  ledger.Address
	Balance uint64
	Needed  uint64
	TokenID uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("erc1155: insufficient balance: %s holds %d of id %d, needs %d", e.Sender, e.Balance, e.TokenID, e.Needed)
}

// InvalidReceiverError is returned for transfers to the zero address
type InvalidReceiverError struct {
	Receiver ledger.Address
}

func (e *InvalidReceiverError) Error() string {
	return fmt.Sprintf("erc1155: invalid receiver %s", e.Receiver)
}

// InvalidSenderError is returned for transfers from the zero address
type InvalidSenderError struct {
	Sender ledger.Address
}

func (e *InvalidSenderError) Error() string {
	return fmt.Sprintf("erc1155: invalid sender %s", e.Sender)
}

// InvalidArrayLengthError is returned when ids and values differ in length
type InvalidArrayLengthError struct {
	IDsLength    int
	ValuesLength int
}

func (e *InvalidArrayLengthError) Error() string {
	return fmt.Sprintf("erc1155: invalid array length: ids %d, values %d", e.IDsLength, e.ValuesLength)
}

// InvalidOperatorError is returned when approving the zero address
type InvalidOperatorError struct {
	Operator ledger.Address
}

func (e *InvalidOperatorError) Error() string {
	return fmt.Sprintf("erc1155: invalid operator %s", e.Operator)
}
