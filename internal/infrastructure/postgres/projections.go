package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/domain/laboratory"
	"github.com/drfirst/rxchain/internal/domain/order"
	"github.com/drfirst/rxchain/internal/domain/prescription"
	"github.com/drfirst/rxchain/internal/ledger"
)

// ErrMalformedEvent marks an event payload that cannot be decoded
var ErrMalformedEvent = errors.New("malformed event payload")

// Projector folds contract events into queryable tables. Every write is
// guarded by last_receipt so replays and redeliveries leave rows unchanged.
type Projector struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewProjector creates a projector on pool
func NewProjector(pool *pgxpool.Pool, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{pool: pool, logger: logger}
}

// Apply projects one event. Event types without a projection are ignored.
func (p *Projector) Apply(ctx context.Context, msg *EventMessage) error {
	ev := msg.Event
	var stmt func(context.Context, pgx.Tx, *EventMessage, int64) error

	switch ev.Type {
	case string(order.EventOrderPrepared):
		stmt = projectOrderPrepared
	case string(order.EventOrderReady):
		stmt = projectOrderReady
	case string(order.EventOrderPayed):
		stmt = projectOrderPayed
	case string(prescription.EventTokenMinted):
		stmt = projectTokenMinted
	case string(prescription.EventTokenTransferredToPharmacy):
		stmt = projectTokenTransferred
	case string(prescription.EventPrescriptionBurned):
		stmt = projectPrescriptionBurned
	case string(laboratory.EventMedicationDataUpdated):
		stmt = projectMedication
	default:
		return nil
	}

	receipt, err := toInt64(msg.ReceiptIndex)
	if err != nil {
		return fmt.Errorf("project %s: %w", ev.Type, err)
	}
	if err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error { return stmt(ctx, tx, msg, receipt) }); err != nil {
		return fmt.Errorf("project %s from receipt %d: %w", ev.Type, msg.ReceiptIndex, err)
	}
	p.logger.Debug("event projected",
		zap.String("type", ev.Type),
		zap.Uint64("receipt", msg.ReceiptIndex))
	return nil
}

func decode(ev ledger.Event, v interface{}) error {
	if err := ev.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.Type, err)
	}
	return nil
}

func int64s(in []uint64) ([]int64, error) {
	out := make([]int64, len(in))
	for i, v := range in {
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func projectOrderPrepared(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d order.OrderPreparedData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	orderID, err := toInt64(d.OrderID)
	if err != nil {
		return err
	}
	ids, err := int64s(d.MedicineIDs)
	if err != nil {
		return err
	}
	qtys, err := int64s(d.Quantities)
	if err != nil {
		return err
	}
	total, err := toInt64(d.TotalPrice)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (order_id, exchange, pharmacy, patient, medicine_ids, quantities, total_price, last_receipt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, msg.Event.Contract.Hex(), d.Pharmacy.Hex(), d.Patient.Hex(), ids, qtys, total, receipt)
	return err
}

func projectOrderReady(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d order.OrderReadyData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	orderID, err := toInt64(d.OrderID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET is_ready = TRUE, last_receipt = $2, updated_at = NOW()
		WHERE order_id = $1 AND last_receipt < $2
	`, orderID, receipt)
	return err
}

func projectOrderPayed(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d order.OrderPayedData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	orderID, err := toInt64(d.OrderID)
	if err != nil {
		return err
	}
	amount, err := toInt64(d.Amount)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET is_paid = TRUE, paid_amount = $2, last_receipt = $3, updated_at = NOW()
		WHERE order_id = $1 AND last_receipt < $3
	`, orderID, amount, receipt)
	return err
}

func projectTokenMinted(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d prescription.TokenMintedData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	tokenID, err := toInt64(d.TokenID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO prescriptions (token_id, registry, owner, patient, doctor, status, uri, last_receipt)
		VALUES ($1, $2, $3, $3, $4, $5, $6, $7)
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, msg.Event.Contract.Hex(), d.To.Hex(), d.Doctor.Hex(),
		string(prescription.StatusMinted), d.URI, receipt)
	return err
}

func projectTokenTransferred(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d prescription.TokenTransferredToPharmacyData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	tokenID, err := toInt64(d.TokenID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE prescriptions
		SET owner = $2, pharmacy = $2, status = $3, last_receipt = $4, updated_at = NOW()
		WHERE token_id = $1 AND last_receipt < $4
	`, tokenID, d.To.Hex(), string(prescription.StatusAtPharmacy), receipt)
	return err
}

func projectPrescriptionBurned(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d prescription.PrescriptionBurnedData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	tokenID, err := toInt64(d.TokenID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE prescriptions
		SET owner = NULL, status = $2, last_receipt = $3, updated_at = NOW()
		WHERE token_id = $1 AND last_receipt < $3
	`, tokenID, string(prescription.StatusBurned), receipt)
	return err
}

func projectMedication(ctx context.Context, tx pgx.Tx, msg *EventMessage, receipt int64) error {
	var d laboratory.MedicationDataUpdatedData
	if err := decode(msg.Event, &d); err != nil {
		return err
	}
	medID, err := toInt64(d.ID)
	if err != nil {
		return err
	}
	price, err := toInt64(d.Price)
	if err != nil {
		return err
	}
	rate, err := toInt64(d.Rate)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO medications (medication_id, name, price, rate, last_receipt)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (medication_id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, rate = EXCLUDED.rate, last_receipt = EXCLUDED.last_receipt
		WHERE medications.last_receipt < EXCLUDED.last_receipt
	`, medID, d.Name, price, rate, receipt)
	return err
}

// OrderView is a projected order row
type OrderView struct {
	OrderID     uint64  `json:"order_id"`
	Pharmacy    string  `json:"pharmacy"`
	Patient     string  `json:"patient"`
	MedicineIDs []int64 `json:"medicine_ids"`
	Quantities  []int64 `json:"quantities"`
	TotalPrice  int64   `json:"total_price"`
	IsReady     bool    `json:"is_ready"`
	IsPaid      bool    `json:"is_paid"`
	PaidAmount  *int64  `json:"paid_amount,omitempty"`
}

// OrdersByPatient lists projected orders of patient, newest first
func (p *Projector) OrdersByPatient(ctx context.Context, patient ledger.Address, limit int) ([]OrderView, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT order_id, pharmacy, patient, medicine_ids, quantities, total_price, is_ready, is_paid, paid_amount
		FROM orders
		WHERE patient = $1
		ORDER BY order_id DESC
		LIMIT $2
	`, patient.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderView
	for rows.Next() {
		var (
			v  OrderView
			id int64
		)
		if err := rows.Scan(&id, &v.Pharmacy, &v.Patient, &v.MedicineIDs, &v.Quantities,
			&v.TotalPrice, &v.IsReady, &v.IsPaid, &v.PaidAmount); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		v.OrderID = uint64(id)
		out = append(out, v)
	}
	return out, rows.Err()
}

// MedicationView is a projected catalog row
type MedicationView struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Rate        int64  `json:"rate"`
	LastReceipt uint64 `json:"last_receipt"`
}

// Medications lists the projected catalog ordered by id
func (p *Projector) Medications(ctx context.Context) ([]MedicationView, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT medication_id, name, price, rate, last_receipt
		FROM medications
		ORDER BY medication_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query medications: %w", err)
	}
	defer rows.Close()

	out := []MedicationView{}
	for rows.Next() {
		var (
			v           MedicationView
			id, receipt int64
		)
		if err := rows.Scan(&id, &v.Name, &v.Price, &v.Rate, &receipt); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		v.ID, v.LastReceipt = uint64(id), uint64(receipt)
		out = append(out, v)
	}
	return out, rows.Err()
}
