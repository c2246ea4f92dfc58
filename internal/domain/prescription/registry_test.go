package prescription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = 0xd0
	a[19] = b
	return a
}

var (
	admin    = addr(1)
	doctor   = addr(10)
	patient  = addr(20)
	patient2 = addr(21)
	pharmacy = addr(30)
	outsider = addr(99)
)

type fixture struct {
	ledger     *ledger.Ledger
	registry   *Registry
	doctors    *merkle.Tree
	patients   *merkle.Tree
	pharmacies *merkle.Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New()
	f := &fixture{
		ledger:     l,
		doctors:    roles.BuildTree([]ledger.Address{doctor, addr(11)}),
		patients:   roles.BuildTree([]ledger.Address{patient, patient2, addr(22)}),
		pharmacies: roles.BuildTree([]ledger.Address{pharmacy, addr(31)}),
	}
	lists := Whitelists{
		Doctors:    roles.NewDoctors(l.Deploy(admin, "doctors"), admin, f.doctors.Root()),
		Patients:   roles.NewPatients(l.Deploy(admin, "patients"), admin, f.patients.Root()),
		Pharmacies: roles.NewPharmacies(l.Deploy(admin, "pharmacies"), admin, f.pharmacies.Root()),
	}
	f.registry = NewRegistry(l.Deploy(admin, "prescriptions"), admin, DefaultBaseURI, lists)
	return f
}

func proofOf(t *testing.T, tree *merkle.Tree, a ledger.Address) []merkle.Hash {
	t.Helper()
	// outsiders get a nil proof, which never verifies against a multi-leaf root
	p, _ := tree.Proof(roles.Leaf(a))
	return p
}

func (f *fixture) exec(from ledger.Address, fn func(tx *ledger.Tx) error) (*ledger.Receipt, error) {
	return f.ledger.Execute(context.Background(), ledger.Msg{From: from, To: f.registry.Address()}, fn)
}

func (f *fixture) mint(t *testing.T, from, to ledger.Address) (uint64, *ledger.Receipt, error) {
	t.Helper()
	var id uint64
	receipt, err := f.exec(from, func(tx *ledger.Tx) error {
		var err error
		id, err = f.registry.MintPrescription(tx, to, proofOf(t, f.doctors, from), proofOf(t, f.patients, to))
		return err
	})
	return id, receipt, err
}

func (f *fixture) transfer(t *testing.T, from, to ledger.Address, id uint64) error {
	t.Helper()
	_, err := f.exec(from, func(tx *ledger.Tx) error {
		return f.registry.TransferToPharmacy(tx, proofOf(t, f.patients, from), to, proofOf(t, f.pharmacies, to), id)
	})
	return err
}

func TestMintPrescription(t *testing.T) {
	f := newFixture(t)

	t.Run("non doctor cannot mint", func(t *testing.T) {
		_, receipt, err := f.mint(t, outsider, patient)
		assert.ErrorIs(t, err, ErrOnlyDoctorsMint)
		assert.Empty(t, receipt.Events)
	})

	t.Run("receiver must be a patient", func(t *testing.T) {
		_, _, err := f.mint(t, doctor, pharmacy)
		assert.ErrorIs(t, err, ErrOnlyPatientsReceive)
	})

	t.Run("ids are sequential from zero despite failures", func(t *testing.T) {
		id, receipt, err := f.mint(t, doctor, patient)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), id)

		events := receipt.EventsOfType(string(EventTokenMinted))
		require.Len(t, events, 1)
		var data TokenMintedData
		require.NoError(t, events[0].Decode(&data))
		assert.Equal(t, uint64(0), data.TokenID)
		assert.Equal(t, patient, data.To)
		assert.Equal(t, DefaultBaseURI+"0.json", data.URI)

		_, _, err = f.mint(t, outsider, patient)
		require.Error(t, err)

		id, _, err = f.mint(t, doctor, patient2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		assert.Equal(t, uint64(2), f.registry.TokenIDCounter())
	})

	owner, err := f.registry.OwnerOf(0)
	require.NoError(t, err)
	assert.Equal(t, patient, owner)
	bal, err := f.registry.BalanceOf(patient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal)
}

func TestTransferToPharmacy(t *testing.T) {
	f := newFixture(t)
	id, _, err := f.mint(t, doctor, patient)
	require.NoError(t, err)

	t.Run("caller must be a patient", func(t *testing.T) {
		assert.ErrorIs(t, f.transfer(t, doctor, pharmacy, id), ErrOnlyPatientsTransfer)
	})

	t.Run("zero receiver", func(t *testing.T) {
		var invalid *InvalidReceiverError
		assert.ErrorAs(t, f.transfer(t, patient, ledger.ZeroAddress, id), &invalid)
	})

	t.Run("destination must be a pharmacy", func(t *testing.T) {
		assert.ErrorIs(t, f.transfer(t, patient, patient2, id), ErrOnlyPharmacyDestination)
	})

	t.Run("caller must own the token", func(t *testing.T) {
		var incorrect *IncorrectOwnerError
		require.ErrorAs(t, f.transfer(t, patient2, pharmacy, id), &incorrect)
		assert.Equal(t, patient, incorrect.Owner)
	})

	t.Run("unknown token", func(t *testing.T) {
		assert.ErrorIs(t, f.transfer(t, patient, pharmacy, 42), ErrTokenDoesNotExist)
	})

	t.Run("success", func(t *testing.T) {
		receipt, err := f.exec(patient, func(tx *ledger.Tx) error {
			return f.registry.TransferToPharmacy(tx, proofOf(t, f.patients, patient), pharmacy, proofOf(t, f.pharmacies, pharmacy), id)
		})
		require.NoError(t, err)
		owner, err := f.registry.OwnerOf(id)
		require.NoError(t, err)
		assert.Equal(t, pharmacy, owner)

		events := receipt.EventsOfType(string(EventTokenTransferredToPharmacy))
		require.Len(t, events, 1)
		var data TokenTransferredToPharmacyData
		require.NoError(t, events[0].Decode(&data))
		assert.Equal(t, TokenTransferredToPharmacyData{TokenID: id, From: patient, To: pharmacy}, data)

		token, ok := f.registry.Token(id)
		require.True(t, ok)
		assert.Equal(t, StatusAtPharmacy, token.Status)
	})
}

func TestBurn(t *testing.T) {
	f := newFixture(t)
	id, _, err := f.mint(t, doctor, patient)
	require.NoError(t, err)
	require.NoError(t, f.transfer(t, patient, pharmacy, id))

	_, err = f.exec(patient, func(tx *ledger.Tx) error { return f.registry.Burn(tx, id) })
	var approval *InsufficientApprovalError
	require.ErrorAs(t, err, &approval)

	_, err = f.exec(pharmacy, func(tx *ledger.Tx) error { return f.registry.Burn(tx, id) })
	require.NoError(t, err)

	_, err = f.registry.OwnerOf(id)
	var nonexistent *NonexistentTokenError
	require.ErrorAs(t, err, &nonexistent)
	assert.Equal(t, id, nonexistent.TokenID)
	_, err = f.registry.TokenURI(id)
	assert.ErrorIs(t, err, ErrTokenDoesNotExist)

	// burned ids are never revived
	_, err = f.exec(pharmacy, func(tx *ledger.Tx) error { return f.registry.Burn(tx, id) })
	assert.ErrorIs(t, err, ErrTokenDoesNotExist)
	next, _, err := f.mint(t, doctor, patient)
	require.NoError(t, err)
	assert.Equal(t, id+1, next)

	bal, err := f.registry.BalanceOf(pharmacy)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestTokenURIAndBaseURI(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.TokenURI(0)
	assert.ErrorIs(t, err, ErrTokenDoesNotExist)

	id, _, err := f.mint(t, doctor, patient)
	require.NoError(t, err)
	uri, err := f.registry.TokenURI(id)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURI+"0.json", uri)

	_, err = f.exec(doctor, func(tx *ledger.Tx) error { return f.registry.SetBaseURI(tx, "URI") })
	var unauthorized *roles.UnauthorizedAccountError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, doctor, unauthorized.Account)

	receipt, err := f.exec(admin, func(tx *ledger.Tx) error { return f.registry.SetBaseURI(tx, "ipfs://new/") })
	require.NoError(t, err)
	require.Len(t, receipt.EventsOfType(string(EventBaseURISet)), 1)

	uri, err = f.registry.TokenURI(id)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://new/0.json", uri)
}

func TestSupportsInterface(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.registry.SupportsInterface(0x01ffc9a7))
	assert.True(t, f.registry.SupportsInterface(InterfaceERC721))
	assert.False(t, f.registry.SupportsInterface(0xffffffff))
	assert.Equal(t, "Prescriptions", f.registry.Name())
}

func TestUnsupportedOperations(t *testing.T) {
	for _, op := range DisabledOperations {
		err := Unsupported(op)
		assert.ErrorIs(t, err, ErrNotImplemented)
		assert.Contains(t, err.Error(), "not implemented in prescriptions")
	}
}
