package ledger

// ReentrancyGuard rejects nested entry into the operations it protects.
// It relies on the ledger lock, so it must only be used inside a transaction.
type ReentrancyGuard struct {
	entered bool
}

// Enter marks the guard and returns the function that releases it
func (g *ReentrancyGuard) Enter() (func(), error) {
	if g.entered {
		return nil, ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}
