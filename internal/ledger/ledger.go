package ledger

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/pkg/merkle"
)

// MaxCallDepth bounds nested contract calls
const MaxCallDepth = 64

// Msg describes a call into the ledger
type Msg struct {
	From  Address
	To    Address
	Value uint64
}

// Receiver is invoked when native currency is transferred to a registered account.
// Returning an error reverts the transfer.
type Receiver func(tx *Tx, from Address, amount uint64) error

// Ledger serializes all state transitions behind one lock. Every Execute call
// either commits all of its effects and events or none of them.
type Ledger struct {
	mu        sync.Mutex
	publishMu sync.Mutex

	balances  map[Address]uint64
	nonces    map[Address]uint64
	receivers map[Address]Receiver
	labels    map[Address]string
	height    uint64

	sinks  []ReceiptSink
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the ledger logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSink registers a receipt sink; sinks run in registration order
func WithSink(sink ReceiptSink) Option {
	return func(l *Ledger) { l.sinks = append(l.sinks, sink) }
}

// WithClock overrides the receipt timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		balances:  make(map[Address]uint64),
		nonces:    make(map[Address]uint64),
		receivers: make(map[Address]Receiver),
		labels:    make(map[Address]string),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("rxchain/ledger"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddSink registers a receipt sink after construction
func (l *Ledger) AddSink(sink ReceiptSink) {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Deploy derives a fresh contract address from the deployer and its nonce
func (l *Ledger) Deploy(deployer Address, label string) Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	nonce := l.nonces[deployer]
	l.nonces[deployer] = nonce + 1

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h := merkle.Keccak256(deployer[:], buf[:])
	addr := BytesToAddress(h[:])
	l.labels[addr] = label

	l.logger.Info("contract deployed",
		zap.String("label", label),
		zap.String("address", addr.Hex()),
		zap.String("deployer", deployer.Hex()),
	)
	return addr
}

// Label returns the deployment label of a contract, if any
func (l *Ledger) Label(addr Address) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.labels[addr]
}

// SetReceiver installs the hook invoked when addr receives native currency
func (l *Ledger) SetReceiver(addr Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = r
}

// Fund credits genesis balances outside of any transaction
func (l *Ledger) Fund(addr Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := Add(l.balances[addr], amount)
	if err != nil {
		return err
	}
	l.balances[addr] = next
	return nil
}

// BalanceOf returns the native currency balance of addr
func (l *Ledger) BalanceOf(addr Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// Height returns the number of executed transactions
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Execute runs fn as one transaction. msg.Value moves from msg.From to msg.To
// before fn runs. On error every effect is rolled back and the receipt is
// marked reverted; the error is returned alongside the receipt.
func (l *Ledger) Execute(ctx context.Context, msg Msg, fn func(*Tx) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := l.tracer.Start(ctx, "ledger.execute",
		trace.WithAttributes(
			attribute.String("tx.from", msg.From.Hex()),
			attribute.String("tx.to", msg.To.Hex()),
			attribute.String("tx.value", strconv.FormatUint(msg.Value, 10)),
		),
	)
	defer span.End()

	l.mu.Lock()
	tx := newTx(ctx, l, msg)
	err := tx.run(fn)
	if err != nil {
		tx.rollback(0)
	}
	receipt := l.seal(tx, err)
	// hold publishMu across the unlock so sinks observe ledger order
	l.publishMu.Lock()
	l.mu.Unlock()

	l.publish(ctx, receipt)
	l.publishMu.Unlock()

	span.SetAttributes(
		attribute.String("tx.index", strconv.FormatUint(receipt.Index, 10)),
		attribute.String("tx.status", string(receipt.Status)),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		l.logger.Warn("transaction reverted",
			zap.Uint64("index", receipt.Index),
			zap.String("from", msg.From.Hex()),
			zap.String("to", msg.To.Hex()),
			zap.Error(err),
		)
		return receipt, err
	}

	l.logger.Debug("transaction committed",
		zap.Uint64("index", receipt.Index),
		zap.String("hash", receipt.Hash.Hex()),
		zap.Int("events", len(receipt.Events)),
	)
	return receipt, nil
}

// View runs fn against current state and discards every effect
func (l *Ledger) View(ctx context.Context, msg Msg, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(ctx, l, msg)
	err := tx.run(fn)
	tx.rollback(0)
	return err
}

func (l *Ledger) seal(tx *Tx, err error) *Receipt {
	msg := tx.msg
	nonce := l.nonces[msg.From]
	l.nonces[msg.From] = nonce + 1

	receipt := &Receipt{
		Index:     l.height,
		Hash:      txHash(l.height, nonce, msg),
		From:      msg.From,
		To:        msg.To,
		Value:     msg.Value,
		Status:    StatusSuccess,
		Timestamp: l.now(),
		Events:    []Event{},
	}
	l.height++

	if err != nil {
		receipt.Status = StatusReverted
		receipt.Error = err.Error()
		return receipt
	}
	for i, e := range *tx.events {
		e.Index = i
		e.ID = eventID(receipt.Hash, i)
		e.Label = l.labels[e.Contract]
		receipt.Events = append(receipt.Events, e)
	}
	return receipt
}

func (l *Ledger) publish(ctx context.Context, receipt *Receipt) {
	for _, sink := range l.sinks {
		if err := sink.HandleReceipt(ctx, receipt); err != nil {
			l.logger.Error("receipt sink failed",
				zap.Uint64("index", receipt.Index),
				zap.Error(err),
			)
		}
	}
}

// debit and credit are only called with l.mu held

func (l *Ledger) debit(addr Address, amount uint64) error {
	bal := l.balances[addr]
	if bal < amount {
		return &InsufficientFundsError{Account: addr, Balance: bal, Needed: amount}
	}
	l.balances[addr] = bal - amount
	return nil
}

func (l *Ledger) credit(addr Address, amount uint64) error {
	next, err := Add(l.balances[addr], amount)
	if err != nil {
		return err
	}
	l.balances[addr] = next
	return nil
}
