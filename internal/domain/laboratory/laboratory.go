// Package laboratory implements the medication catalog and the multi-asset
// inventory ledger pharmacies buy from and patients are paid out of.
package laboratory

import (
	"sort"
	"strconv"

	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

// MaxItems bounds the number of entries in one catalog batch update
const MaxItems = 100

// DefaultBaseURI is the medication metadata prefix used when none is configured
const DefaultBaseURI = "ipfs://"

// Medication is one catalog entry
type Medication struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Price uint64 `json:"price"`
	Rate  uint64 `json:"rate"`
}

// PharmacyRegistry is the pharmacy whitelist the laboratory gates minting on
type PharmacyRegistry interface {
	roles.Checker
	Address() ledger.Address
}

type balanceKey struct {
	id      uint64
	account ledger.Address
}

type approvalKey struct {
	owner    ledger.Address
	operator ledger.Address
}

// Laboratory is the inventory contract
type Laboratory struct {
	roles.Ownable
	address    ledger.Address
	baseURI    string
	pharmacies PharmacyRegistry
	catalog    map[uint64]Medication
	balances   map[balanceKey]uint64
	approvals  map[approvalKey]bool
	guard      ledger.ReentrancyGuard
}

// New creates a laboratory deployed at address
func New(address, owner ledger.Address, baseURI string, pharmacies PharmacyRegistry) *Laboratory {
	return &Laboratory{
		Ownable:    roles.NewOwnable(owner),
		address:    address,
		baseURI:    baseURI,
		pharmacies: pharmacies,
		catalog:    make(map[uint64]Medication),
		balances:   make(map[balanceKey]uint64),
		approvals:  make(map[approvalKey]bool),
	}
}

// Address returns the laboratory contract address
func (l *Laboratory) Address() ledger.Address { return l.address }

// PharmacyRegistryAddress returns the address of the current pharmacy whitelist
func (l *Laboratory) PharmacyRegistryAddress() ledger.Address { return l.pharmacies.Address() }

// AddOrUpdateMedicationData upserts one catalog entry
func (l *Laboratory) AddOrUpdateMedicationData(tx *ledger.Tx, m Medication) error {
	if err := l.OnlyOwner(tx); err != nil {
		return err
	}
	if m.Name == "" {
		return ErrEmptyName
	}
	l.upsert(tx, m)
	tx.Emit(string(EventMedicationDataUpdated), &MedicationDataUpdatedData{Medication: m})
	return nil
}

// AddOrUpdateMedications upserts up to MaxItems catalog entries at once. Each
// entry gets its own MedicationDataUpdated event ahead of the list summary.
func (l *Laboratory) AddOrUpdateMedications(tx *ledger.Tx, meds []Medication) error {
	if err := l.OnlyOwner(tx); err != nil {
		return err
	}
	if len(meds) > MaxItems {
		return ErrTooManyItems
	}
	ids := make([]uint64, 0, len(meds))
	for _, m := range meds {
		if m.Name == "" {
			return ErrEmptyName
		}
		l.upsert(tx, m)
		tx.Emit(string(EventMedicationDataUpdated), &MedicationDataUpdatedData{Medication: m})
		ids = append(ids, m.ID)
	}
	tx.Emit(string(EventMedicationListUpdated), &MedicationListUpdatedData{IDs: ids})
	return nil
}

func (l *Laboratory) upsert(tx *ledger.Tx, m Medication) {
	prev, existed := l.catalog[m.ID]
	l.catalog[m.ID] = m
	tx.OnRevert(func() {
		if existed {
			l.catalog[m.ID] = prev
			return
		}
		delete(l.catalog, m.ID)
	})
}

// MedicationData returns a catalog entry
func (l *Laboratory) MedicationData(id uint64) (Medication, bool) {
	m, ok := l.catalog[id]
	return m, ok
}

// Medications returns the catalog ordered by id
func (l *Laboratory) Medications() []Medication {
	out := make([]Medication, 0, len(l.catalog))
	for _, m := range l.catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CalculateTotalPrice sums price times quantity; unknown ids cost nothing
func (l *Laboratory) CalculateTotalPrice(ids, quantities []uint64) (uint64, error) {
	if len(ids) != len(quantities) {
		return 0, ErrArrayLengthMismatch
	}
	var total uint64
	for i, id := range ids {
		line, err := ledger.Mul(l.catalog[id].Price, quantities[i])
		if err != nil {
			return 0, err
		}
		if total, err = ledger.Add(total, line); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// MintMedications sells inventory to a pharmacy. The attached value must cover
// the catalog price; any excess is refunded to the caller.
func (l *Laboratory) MintMedications(tx *ledger.Tx, ids, quantities []uint64, pharmacyProof []merkle.Hash) error {
	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	caller := tx.Sender()
	if !l.pharmacies.IsMember(caller, pharmacyProof) {
		return ErrOnlyPharmaciesMint
	}
	total, err := l.CalculateTotalPrice(ids, quantities)
	if err != nil {
		return err
	}
	if tx.Value() < total {
		return ErrInsufficientPayment
	}

	for i, id := range ids {
		next, err := ledger.Add(l.balances[balanceKey{id, caller}], quantities[i])
		if err != nil {
			return err
		}
		l.setBalance(tx, id, caller, next)
	}
	tx.Emit(string(EventTransferBatch), &TransferBatchData{
		Operator: caller,
		From:     ledger.ZeroAddress,
		To:       caller,
		IDs:      ids,
		Values:   quantities,
	})

	if excess := tx.Value() - total; excess > 0 {
		if err := tx.Transfer(caller, excess); err != nil {
			return err
		}
	}

	tx.Emit(string(EventMedicationMinted), &MedicationMintedData{TotalPrice: total, Caller: caller})
	return nil
}

// BalanceOf returns the units of id held by account
func (l *Laboratory) BalanceOf(account ledger.Address, id uint64) uint64 {
	return l.balances[balanceKey{id, account}]
}

// BalanceOfBatch returns BalanceOf for each (account, id) pair
func (l *Laboratory) BalanceOfBatch(accounts []ledger.Address, ids []uint64) ([]uint64, error) {
	if len(accounts) != len(ids) {
		return nil, &InvalidArrayLengthError{IDsLength: len(ids), ValuesLength: len(accounts)}
	}
	out := make([]uint64, len(ids))
	for i := range ids {
		out[i] = l.BalanceOf(accounts[i], ids[i])
	}
	return out, nil
}

// SetApprovalForAll lets operator move every balance of the sender
func (l *Laboratory) SetApprovalForAll(tx *ledger.Tx, operator ledger.Address, approved bool) error {
	if operator.IsZero() {
		return &InvalidOperatorError{Operator: operator}
	}
	owner := tx.Sender()
	key := approvalKey{owner, operator}
	prev := l.approvals[key]
	l.approvals[key] = approved
	tx.OnRevert(func() { l.approvals[key] = prev })

	tx.Emit(string(EventApprovalForAll), &ApprovalForAllData{Owner: owner, Operator: operator, Approved: approved})
	return nil
}

// IsApprovedForAll reports whether operator may move owner's balances
func (l *Laboratory) IsApprovedForAll(owner, operator ledger.Address) bool {
	return l.approvals[approvalKey{owner, operator}]
}

// SafeTransferFrom moves value units of one id
func (l *Laboratory) SafeTransferFrom(tx *ledger.Tx, from, to ledger.Address, id, value uint64) error {
	if err := l.transfer(tx, from, to, []uint64{id}, []uint64{value}); err != nil {
		return err
	}
	tx.Emit(string(EventTransferSingle), &TransferSingleData{
		Operator: tx.Sender(),
		From:     from,
		To:       to,
		ID:       id,
		Value:    value,
	})
	return nil
}

// SafeBatchTransferFrom moves several ids at once. The sender must be from or
// an approved operator of from; approval is checked before balances.
func (l *Laboratory) SafeBatchTransferFrom(tx *ledger.Tx, from, to ledger.Address, ids, values []uint64) error {
	if err := l.transfer(tx, from, to, ids, values); err != nil {
		return err
	}
	tx.Emit(string(EventTransferBatch), &TransferBatchData{
		Operator: tx.Sender(),
		From:     from,
		To:       to,
		IDs:      ids,
		Values:   values,
	})
	return nil
}

func (l *Laboratory) transfer(tx *ledger.Tx, from, to ledger.Address, ids, values []uint64) error {
	operator := tx.Sender()
	if from != operator && !l.IsApprovedForAll(from, operator) {
		return &MissingApprovalForAllError{Operator: operator, Owner: from}
	}
	if to.IsZero() {
		return &InvalidReceiverError{Receiver: to}
	}
	if from.IsZero() {
		return &InvalidSenderError{Sender: from}
	}
	if len(ids) != len(values) {
		return &InvalidArrayLengthError{IDsLength: len(ids), ValuesLength: len(values)}
	}

	for i, id := range ids {
		value := values[i]
		balance := l.balances[balanceKey{id, from}]
		if balance < value {
			return &InsufficientBalanceError{Sender: from, Balance: balance, Needed: value, TokenID: id}
		}
		l.setBalance(tx, id, from, balance-value)
		next, err := ledger.Add(l.balances[balanceKey{id, to}], value)
		if err != nil {
			return err
		}
		l.setBalance(tx, id, to, next)
	}
	return nil
}

func (l *Laboratory) setBalance(tx *ledger.Tx, id uint64, account ledger.Address, value uint64) {
	key := balanceKey{id, account}
	prev := l.balances[key]
	l.balances[key] = value
	tx.OnRevert(func() { l.balances[key] = prev })
}

// URI resolves the metadata reference of a medication id
func (l *Laboratory) URI(id uint64) string {
	return l.baseURI + strconv.FormatUint(id, 10) + ".json"
}

// SetBaseURI changes the metadata prefix
func (l *Laboratory) SetBaseURI(tx *ledger.Tx, uri string) error {
	if err := l.OnlyOwner(tx); err != nil {
		return err
	}
	previous := l.baseURI
	l.baseURI = uri
	tx.OnRevert(func() { l.baseURI = previous })

	tx.Emit(string(EventBaseURISet), &BaseURISetData{URI: uri})
	return nil
}

// SetPharmacyRegistry points minting at a different pharmacy whitelist
func (l *Laboratory) SetPharmacyRegistry(tx *ledger.Tx, registry PharmacyRegistry) error {
	if err := l.OnlyOwner(tx); err != nil {
		return err
	}
	previous := l.pharmacies
	l.pharmacies = registry
	tx.OnRevert(func() { l.pharmacies = previous })

	tx.Emit(string(EventPharmacyContractAddressSet), &PharmacyContractAddressSetData{Address: registry.Address()})
	return nil
}
