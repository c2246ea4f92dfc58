package ledger

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Tx is the execution frame handed to contract code. A nested frame shares the
// journal and event log of its parent; rolling back a frame only undoes what
// happened since it started.
type Tx struct {
	ctx     context.Context
	ledger  *Ledger
	msg     Msg
	depth   int
	journal *[]func()
	events  *[]Event

	eventMark int
}

func newTx(ctx context.Context, l *Ledger, msg Msg) *Tx {
	return &Tx{
		ctx:     ctx,
		ledger:  l,
		msg:     msg,
		journal: &[]func(){},
		events:  &[]Event{},
	}
}

// Context returns the request context of the transaction
func (t *Tx) Context() context.Context { return t.ctx }

// Sender is the immediate caller of the current frame
func (t *Tx) Sender() Address { return t.msg.From }

// This is the account executing the current frame
func (t *Tx) This() Address { return t.msg.To }

// Value is the native currency attached to the current frame
func (t *Tx) Value() uint64 { return t.msg.Value }

// Depth is the nesting level of the current frame
func (t *Tx) Depth() int { return t.depth }

// Logger returns the ledger logger
func (t *Tx) Logger() *zap.Logger { return t.ledger.logger }

// OnRevert records an undo step for a state change made by contract code
func (t *Tx) OnRevert(undo func()) {
	*t.journal = append(*t.journal, undo)
}

// Emit appends an event attributed to the executing contract
func (t *Tx) Emit(eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.ledger.logger.Error("event payload not serializable",
			zap.String("type", eventType),
			zap.Error(err),
		)
		data = json.RawMessage("null")
	}
	*t.events = append(*t.events, Event{
		Contract: t.This(),
		Type:     eventType,
		Data:     data,
	})
}

// BalanceOf reads a native currency balance inside the transaction
func (t *Tx) BalanceOf(addr Address) uint64 { return t.ledger.balances[addr] }

// Transfer sends native currency from the executing contract to another
// account and invokes its receiver hook, if any
func (t *Tx) Transfer(to Address, amount uint64) error {
	return t.frame(Msg{From: t.This(), To: to, Value: amount}, func(child *Tx) error {
		r, ok := t.ledger.receivers[to]
		if !ok {
			return nil
		}
		return r(child, t.This(), amount)
	})
}

// Call runs fn as a nested frame with the executing contract as sender
func (t *Tx) Call(to Address, value uint64, fn func(*Tx) error) error {
	return t.frame(Msg{From: t.This(), To: to, Value: value}, fn)
}

func (t *Tx) frame(msg Msg, fn func(*Tx) error) error {
	if t.depth+1 > MaxCallDepth {
		return ErrCallDepth
	}
	child := &Tx{
		ctx:     t.ctx,
		ledger:  t.ledger,
		msg:     msg,
		depth:   t.depth + 1,
		journal: t.journal,
		events:  t.events,
	}
	mark := len(*t.journal)
	if err := child.run(fn); err != nil {
		child.rollback(mark)
		return err
	}
	return nil
}

// run moves the frame value and then executes fn
func (t *Tx) run(fn func(*Tx) error) error {
	t.eventMark = len(*t.events)
	if err := t.move(t.msg.From, t.msg.To, t.msg.Value); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	return fn(t)
}

func (t *Tx) move(from, to Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	l := t.ledger
	if err := l.debit(from, amount); err != nil {
		return err
	}
	if err := l.credit(to, amount); err != nil {
		l.balances[from] += amount
		return err
	}
	t.OnRevert(func() {
		l.balances[to] -= amount
		l.balances[from] += amount
	})
	return nil
}

// rollback undoes journal entries above mark in reverse order and drops events
// emitted by this frame
func (t *Tx) rollback(mark int) {
	j := *t.journal
	for i := len(j) - 1; i >= mark; i-- {
		j[i]()
	}
	*t.journal = j[:mark]
	*t.events = (*t.events)[:t.eventMark]
}
