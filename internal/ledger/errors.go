package ledger

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrReentrantCall is returned when a guarded operation is entered while already running
	ErrReentrantCall = errors.New("reentrancy guard: reentrant call")
	// ErrCallDepth is returned when nested calls exceed MaxCallDepth
	ErrCallDepth = errors.New("max call depth exceeded")
	// ErrOverflow is returned when an amount does not fit in 64 bits
	ErrOverflow = errors.New("arithmetic overflow")
)

// InsufficientFundsError reports a native currency debit larger than the balance
type InsufficientFundsError struct {
	Account Address
	Balance uint64
	Needed  uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %d, needs %d", e.Account, e.Balance, e.Needed)
}

// Add returns a+b or ErrOverflow
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Mul returns a*b or ErrOverflow
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}
