// Package handlers exposes the deployed contracts over HTTP. Every write is
// one ledger transaction sent from the authenticated wallet.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/api/middleware"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/internal/node"
	"github.com/drfirst/rxchain/pkg/merkle"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var errNoCaller = errors.New("no authenticated caller")

// ReceiptReader looks up committed receipts
type ReceiptReader interface {
	Get(index uint64) (*ledger.Receipt, error)
	GetByHash(h merkle.Hash) (*ledger.Receipt, error)
	Range(from uint64, limit int) ([]*ledger.Receipt, error)
}

// EventReader lists persisted events of one contract
type EventReader interface {
	EventsByContract(ctx context.Context, contract ledger.Address, from uint64, limit int) ([]postgres.StoredEvent, error)
}

// OrderReader lists projected orders of one patient
type OrderReader interface {
	OrdersByPatient(ctx context.Context, patient ledger.Address, limit int) ([]postgres.OrderView, error)
}

// CatalogReader lists the projected medication catalog
type CatalogReader interface {
	Medications(ctx context.Context) ([]postgres.MedicationView, error)
}

// Handler serves the contract API of one node
type Handler struct {
	node     *node.Node
	receipts ReceiptReader
	events   EventReader
	orders   OrderReader
	catalog  CatalogReader
	logger   *zap.Logger
}

// Option configures optional read models
type Option func(*Handler)

func WithReceipts(r ReceiptReader) Option { return func(h *Handler) { h.receipts = r } }
func WithEvents(r EventReader) Option     { return func(h *Handler) { h.events = r } }
func WithOrders(r OrderReader) Option     { return func(h *Handler) { h.orders = r } }
func WithCatalog(r CatalogReader) Option  { return func(h *Handler) { h.catalog = r } }

func New(n *node.Node, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		node:   n,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every contract route. Callers wrap it with WalletAuth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/roles/{role}", func(r chi.Router) {
		r.Get("/root", h.GetRoot)
		r.Put("/root", h.SetRoot)
		r.Post("/check", h.CheckMember)
		r.Get("/proof/{address}", h.GetProof)
	})
	r.Put("/authorization/{role}/root", h.SetManagerRoot)

	r.Route("/prescriptions", func(r chi.Router) {
		r.Post("/", h.MintPrescription)
		r.Put("/base-uri", h.SetPrescriptionBaseURI)
		r.Post("/approval-for-all", h.disabled("setApprovalForAll"))
		r.Get("/approval-for-all", h.disabled("isApprovedForAll"))
		r.Get("/owners/{address}/balance", h.PrescriptionBalance)
		r.Get("/{id}", h.GetPrescription)
		r.Post("/{id}/transfer", h.TransferToPharmacy)
		r.Delete("/{id}", h.BurnPrescription)
		r.Post("/{id}/approve", h.disabled("approve"))
		r.Get("/{id}/approved", h.disabled("getApproved"))
		r.Post("/{id}/transfer-from", h.disabled("transferFrom"))
		r.Post("/{id}/safe-transfer-from", h.disabled("safeTransferFrom"))
	})

	r.Route("/laboratory", func(r chi.Router) {
		r.Get("/medications", h.ListMedications)
		r.Put("/medications", h.UpsertMedications)
		r.Get("/medications/{id}", h.GetMedication)
		r.Post("/price", h.CalculatePrice)
		r.Post("/mint", h.MintMedications)
		r.Post("/transfer", h.TransferMedications)
		r.Get("/balances/{address}/{id}", h.MedicationBalance)
		r.Put("/approvals", h.SetApproval)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PrepareOrder)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/ready", h.MakeOrderReady)
		r.Get("/{id}/ready", h.IsOrderReady)
		r.Post("/{id}/price", h.GetOrderPrice)
		r.Post("/{id}/pay", h.PayOrder)
	})

	r.Get("/accounts/{address}/balance", h.GetBalance)
	r.Get("/receipts", h.ListReceipts)
	r.Get("/receipts/{index}", h.GetReceipt)
	r.Get("/transactions/{hash}", h.GetReceiptByHash)
	if h.events != nil {
		r.Get("/contracts/{contract}/events", h.ContractEvents)
	}
	if h.orders != nil {
		r.Get("/patients/{address}/orders", h.PatientOrders)
	}
	if h.catalog != nil {
		r.Get("/catalog/medications", h.ProjectedCatalog)
	}
	return r
}

// TxResponse is returned by every write
type TxResponse struct {
	Receipt uint64      `json:"receipt"`
	Hash    merkle.Hash `json:"hash"`
	Result  interface{} `json:"result,omitempty"`
}

// execute sends one transaction from the caller and writes the outcome
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, to ledger.Address, value uint64, status int, fn func(*ledger.Tx) (interface{}, error)) {
	caller, ok := callerOf(r)
	if !ok {
		h.writeError(w, r, errNoCaller)
		return
	}

	var result interface{}
	receipt, err := h.node.Ledger.Execute(r.Context(), ledger.Msg{From: caller, To: to, Value: value}, func(tx *ledger.Tx) error {
		var err error
		result, err = fn(tx)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, status, TxResponse{Receipt: receipt.Index, Hash: receipt.Hash, Result: result})
}

// view runs fn as the caller without committing anything
func (h *Handler) view(r *http.Request, to ledger.Address, fn func(*ledger.Tx) error) error {
	caller, ok := callerOf(r)
	if !ok {
		return errNoCaller
	}
	return h.node.Ledger.View(r.Context(), ledger.Msg{From: caller, To: to}, fn)
}

// proof returns the supplied proof, or the node's proof for addr when the
// request left it out
func (h *Handler) proof(supplied *[]merkle.Hash, role roles.Role, addr ledger.Address) []merkle.Hash {
	if supplied != nil {
		return *supplied
	}
	return h.node.ProofOrEmpty(role, addr)
}

func (h *Handler) callerProof(r *http.Request, supplied *[]merkle.Hash, role roles.Role) []merkle.Hash {
	caller, _ := callerOf(r)
	return h.proof(supplied, role, caller)
}

func callerOf(r *http.Request) (ledger.Address, bool) {
	return middleware.GetCaller(r.Context())
}

func (h *Handler) disabled(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, unsupported(op))
	}
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest("invalid " + name)
	}
	return v, nil
}

func addressParam(r *http.Request, name string) (ledger.Address, error) {
	a, err := ledger.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return a, badRequest(err.Error())
	}
	return a, nil
}

func roleParam(r *http.Request) (roles.Role, error) {
	role, err := roles.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		return "", badRequest(err.Error())
	}
	return role, nil
}

func limitParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, badRequest("invalid limit")
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}
