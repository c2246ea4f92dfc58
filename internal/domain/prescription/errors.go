package prescription

import (
	"errors"
	"fmt"

	"github.com/drfirst/rxchain/internal/ledger"
)

var (
	ErrOnlyDoctorsMint         = errors.New("only doctors are allowed to mint prescriptions")
	ErrOnlyPatientsReceive     = errors.New("only patients can receive prescriptions")
	ErrOnlyPatientsTransfer    = errors.New("only patients can transfer prescriptions")
	ErrOnlyPharmacyDestination = errors.New("patients can only transfer prescriptions to pharmacies")
	ErrTokenDoesNotExist       = errors.New("token does not exist")
	ErrNotImplemented          = errors.New("not implemented in prescriptions")
	ErrInvalidOwner            = errors.New("invalid owner: zero address")
)

// NonexistentTokenError is returned for ids never minted or already burned.
// It matches ErrTokenDoesNotExist under errors.Is.
type NonexistentTokenError struct {
	TokenID uint64
}

func (e *NonexistentTokenError) Error() string {
	return fmt.Sprintf("nonexistent token %d", e.TokenID)
}

func (e *NonexistentTokenError) Is(target error) bool { return target == ErrTokenDoesNotExist }

// InvalidReceiverError is returned when a token would move to the zero address
type InvalidReceiverError struct {
	Receiver ledger.Address
}

func (e *InvalidReceiverError) Error() string {
	return fmt.Sprintf("invalid receiver %s", e.Receiver)
}

// IncorrectOwnerError is returned when the sender does not hold the token it moves
type IncorrectOwnerError struct {
	Sender  ledger.Address
	TokenID uint64
	Owner   ledger.Address
}

func (e *IncorrectOwnerError) Error() string {
	return fmt.Sprintf("incorrect owner: %s does not own token %d (owner %s)", e.Sender, e.TokenID, e.Owner)
}

// InsufficientApprovalError is returned when a non-owner tries to burn a token
type InsufficientApprovalError struct {
	Operator ledger.Address
	TokenID  uint64
}

func (e *InsufficientApprovalError) Error() string {
	return fmt.Sprintf("insufficient approval: %s may not operate token %d", e.Operator, e.TokenID)
}
