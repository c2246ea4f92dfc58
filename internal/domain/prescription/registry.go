// Package prescription implements the prescription token registry.
//
// A prescription moves through minted (held by the patient), at pharmacy and
// burned. The registry exposes no generic transfer or approval capability;
// the only ownership change is TransferToPharmacy.
package prescription

import (
	"strconv"

	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

const (
	Name   = "Prescriptions"
	Symbol = "RX"

	// DefaultBaseURI is the content prefix used when none is configured
	DefaultBaseURI = "ipfs://QmV9w4bXjS5k5JLs5mZ6q2sQwqNqZc2y4HnF7f4b7v4b7/"
)

// ERC-165 interface identifiers answered by SupportsInterface
const (
	InterfaceERC165         uint32 = 0x01ffc9a7
	InterfaceERC721         uint32 = 0x80ac58cd
	InterfaceERC721Metadata uint32 = 0x5b5e139f
)

// Status represents prescription status
type Status string

const (
	StatusMinted     Status = "minted"
	StatusAtPharmacy Status = "at_pharmacy"
	StatusBurned     Status = "burned"
)

// Token is the record kept for every id ever minted
type Token struct {
	ID      uint64         `json:"token_id"`
	Owner   ledger.Address `json:"owner"`
	Patient ledger.Address `json:"patient"`
	Doctor  ledger.Address `json:"doctor"`
	Status  Status         `json:"status"`
}

// Whitelists are the role checks the registry gates on
type Whitelists struct {
	Doctors    roles.Checker
	Patients   roles.Checker
	Pharmacies roles.Checker
}

// Registry is the prescription token contract
type Registry struct {
	roles.Ownable
	address  ledger.Address
	baseURI  string
	lists    Whitelists
	nextID   uint64
	tokens   map[uint64]*Token
	balances map[ledger.Address]uint64
}

// NewRegistry creates a registry deployed at address
func NewRegistry(address, owner ledger.Address, baseURI string, lists Whitelists) *Registry {
	return &Registry{
		Ownable:  roles.NewOwnable(owner),
		address:  address,
		baseURI:  baseURI,
		lists:    lists,
		tokens:   make(map[uint64]*Token),
		balances: make(map[ledger.Address]uint64),
	}
}

// Address returns the registry contract address
func (r *Registry) Address() ledger.Address { return r.address }

func (r *Registry) Name() string   { return Name }
func (r *Registry) Symbol() string { return Symbol }

// TokenIDCounter returns the id the next mint will receive
func (r *Registry) TokenIDCounter() uint64 { return r.nextID }

// BaseURI returns the current content prefix
func (r *Registry) BaseURI() string { return r.baseURI }

// MintPrescription issues the next token to patient to. The sender must be a doctor.
func (r *Registry) MintPrescription(tx *ledger.Tx, to ledger.Address, doctorProof, patientProof []merkle.Hash) (uint64, error) {
	doctor := tx.Sender()
	if !r.lists.Doctors.IsMember(doctor, doctorProof) {
		return 0, ErrOnlyDoctorsMint
	}
	if !r.lists.Patients.IsMember(to, patientProof) {
		return 0, ErrOnlyPatientsReceive
	}
	if to.IsZero() {
		return 0, &InvalidReceiverError{Receiver: to}
	}

	id := r.nextID
	r.nextID++
	r.tokens[id] = &Token{ID: id, Owner: to, Patient: to, Doctor: doctor, Status: StatusMinted}
	r.balances[to]++
	tx.OnRevert(func() {
		r.balances[to]--
		delete(r.tokens, id)
		r.nextID--
	})

	tx.Emit(string(EventTokenMinted), &TokenMintedData{
		TokenID: id,
		To:      to,
		Doctor:  doctor,
		URI:     r.uri(id),
	})
	return id, nil
}

// TransferToPharmacy moves a prescription from the patient holding it to a pharmacy
func (r *Registry) TransferToPharmacy(tx *ledger.Tx, patientProof []merkle.Hash, to ledger.Address, pharmacyProof []merkle.Hash, tokenID uint64) error {
	from := tx.Sender()
	if !r.lists.Patients.IsMember(from, patientProof) {
		return ErrOnlyPatientsTransfer
	}
	if to.IsZero() {
		return &InvalidReceiverError{Receiver: to}
	}
	if !r.lists.Pharmacies.IsMember(to, pharmacyProof) {
		return ErrOnlyPharmacyDestination
	}

	token, err := r.live(tokenID)
	if err != nil {
		return err
	}
	if token.Owner != from {
		return &IncorrectOwnerError{Sender: from, TokenID: tokenID, Owner: token.Owner}
	}

	prevStatus := token.Status
	token.Owner = to
	token.Status = StatusAtPharmacy
	r.balances[from]--
	r.balances[to]++
	tx.OnRevert(func() {
		r.balances[to]--
		r.balances[from]++
		token.Owner = from
		token.Status = prevStatus
	})

	tx.Emit(string(EventTokenTransferredToPharmacy), &TokenTransferredToPharmacyData{
		TokenID: tokenID,
		From:    from,
		To:      to,
	})
	return nil
}

// Burn destroys a prescription; only its current owner may burn it
func (r *Registry) Burn(tx *ledger.Tx, tokenID uint64) error {
	token, err := r.live(tokenID)
	if err != nil {
		return err
	}
	owner := token.Owner
	if tx.Sender() != owner {
		return &InsufficientApprovalError{Operator: tx.Sender(), TokenID: tokenID}
	}

	prevStatus := token.Status
	token.Status = StatusBurned
	token.Owner = ledger.ZeroAddress
	r.balances[owner]--
	tx.OnRevert(func() {
		r.balances[owner]++
		token.Owner = owner
		token.Status = prevStatus
	})

	tx.Emit(string(EventPrescriptionBurned), &PrescriptionBurnedData{TokenID: tokenID, Owner: owner})
	return nil
}

// OwnerOf returns the current holder of a live token
func (r *Registry) OwnerOf(tokenID uint64) (ledger.Address, error) {
	token, err := r.live(tokenID)
	if err != nil {
		return ledger.ZeroAddress, err
	}
	return token.Owner, nil
}

// TokenURI resolves the content reference of a live token
func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	if _, err := r.live(tokenID); err != nil {
		return "", ErrTokenDoesNotExist
	}
	return r.uri(tokenID), nil
}

// Token returns the record of any id ever minted, burned ones included
func (r *Registry) Token(tokenID uint64) (Token, bool) {
	token, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, false
	}
	return *token, true
}

// BalanceOf counts live tokens held by owner
func (r *Registry) BalanceOf(owner ledger.Address) (uint64, error) {
	if owner.IsZero() {
		return 0, ErrInvalidOwner
	}
	return r.balances[owner], nil
}

// SetBaseURI changes the prefix of every token URI
func (r *Registry) SetBaseURI(tx *ledger.Tx, uri string) error {
	if err := r.OnlyOwner(tx); err != nil {
		return err
	}
	previous := r.baseURI
	r.baseURI = uri
	tx.OnRevert(func() { r.baseURI = previous })

	tx.Emit(string(EventBaseURISet), &BaseURISetData{URI: uri})
	return nil
}

// SupportsInterface answers ERC-165 queries
func (r *Registry) SupportsInterface(id uint32) bool {
	switch id {
	case InterfaceERC165, InterfaceERC721, InterfaceERC721Metadata:
		return true
	}
	return false
}

func (r *Registry) live(tokenID uint64) (*Token, error) {
	token, ok := r.tokens[tokenID]
	if !ok || token.Status == StatusBurned {
		return nil, &NonexistentTokenError{TokenID: tokenID}
	}
	return token, nil
}

func (r *Registry) uri(tokenID uint64) string {
	return r.baseURI + strconv.FormatUint(tokenID, 10) + ".json"
}
