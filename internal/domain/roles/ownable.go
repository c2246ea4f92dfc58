// Package roles implements the Merkle-whitelisted role registries.
//
// Contract state in this package is only read or written inside a ledger
// transaction or view; the ledger lock serializes access.
package roles

import (
	"fmt"

	"github.com/drfirst/rxchain/internal/ledger"
)

// UnauthorizedAccountError is returned when a non-owner calls an owner-only operation
type UnauthorizedAccountError struct {
	Account ledger.Address
}

func (e *UnauthorizedAccountError) Error() string {
	return fmt.Sprintf("ownable: unauthorized account %s", e.Account)
}

// InvalidOwnerError is returned when ownership would move to the zero address
type InvalidOwnerError struct {
	Owner ledger.Address
}

func (e *InvalidOwnerError) Error() string {
	return fmt.Sprintf("ownable: invalid owner %s", e.Owner)
}

// Ownable is the single administrator capability held by a contract
type Ownable struct {
	owner ledger.Address
}

// NewOwnable creates the capability held by owner
func NewOwnable(owner ledger.Address) Ownable {
	return Ownable{owner: owner}
}

// Owner returns the current administrator
func (o *Ownable) Owner() ledger.Address { return o.owner }

// OnlyOwner fails unless the transaction sender is the administrator
func (o *Ownable) OnlyOwner(tx *ledger.Tx) error {
	if tx.Sender() != o.owner {
		return &UnauthorizedAccountError{Account: tx.Sender()}
	}
	return nil
}

// TransferOwnership hands the capability to newOwner
func (o *Ownable) TransferOwnership(tx *ledger.Tx, newOwner ledger.Address) error {
	if err := o.OnlyOwner(tx); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return &InvalidOwnerError{Owner: newOwner}
	}

	previous := o.owner
	o.owner = newOwner
	tx.OnRevert(func() { o.owner = previous })

	tx.Emit(string(EventOwnershipTransferred), &OwnershipTransferredData{
		PreviousOwner: previous,
		NewOwner:      newOwner,
	})
	return nil
}
